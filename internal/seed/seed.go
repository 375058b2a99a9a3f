// Package seed loads YAML fixture files into a remote store. It exists for
// demos and local development: a fresh store plus one fixture file yields a
// community with members, posts, and collaborations to poke at.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus/huddle/internal/models"
	"github.com/marcus/huddle/internal/remote"
	"github.com/marcus/huddle/internal/state"
)

// Fixture is the parsed form of one seed file.
type Fixture struct {
	Users          []userSpec   `yaml:"users"`
	Posts          []postSpec   `yaml:"posts"`
	Collaborations []collabSpec `yaml:"collaborations"`
	Theme          string       `yaml:"theme"`
}

type userSpec struct {
	ID          string   `yaml:"id"`
	Username    string   `yaml:"username"`
	DisplayName string   `yaml:"display_name"`
	Bio         string   `yaml:"bio"`
	Friends     []string `yaml:"friends"`
}

type postSpec struct {
	ID     string `yaml:"id"`
	Author string `yaml:"author"`
	Body   string `yaml:"body"`
}

type collabSpec struct {
	ID          string `yaml:"id"`
	Author      string `yaml:"author"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Status      string `yaml:"status"`
}

// Load reads and validates a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes fixture YAML.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, u := range f.Users {
		if u.ID == "" || u.Username == "" {
			return nil, fmt.Errorf("user %d: id and username are required", i)
		}
	}
	for i, p := range f.Posts {
		if p.ID == "" || p.Author == "" {
			return nil, fmt.Errorf("post %d: id and author are required", i)
		}
	}
	for i, c := range f.Collaborations {
		if c.ID == "" || c.Author == "" || c.Title == "" {
			return nil, fmt.Errorf("collaboration %d: id, author and title are required", i)
		}
	}
	for i, c := range f.Collaborations {
		if c.Status != "" && !models.IsValidCollabStatus(models.CollabStatus(c.Status)) {
			return nil, fmt.Errorf("collaboration %d: status %q is not valid", i, c.Status)
		}
	}
	return &f, nil
}

// Apply writes the fixture's collections into the store, one row per slice
// key. Collections absent from the fixture are left untouched. Returns the
// keys written.
func Apply(ctx context.Context, store remote.Store, f *Fixture) ([]string, error) {
	now := time.Now().UTC()
	var written []string

	if len(f.Users) > 0 {
		users := make([]models.User, 0, len(f.Users))
		for _, u := range f.Users {
			users = append(users, models.User{
				ID:          u.ID,
				Username:    u.Username,
				DisplayName: u.DisplayName,
				Bio:         u.Bio,
				FriendIDs:   append([]string(nil), u.Friends...),
				CreatedAt:   now,
			})
		}
		if err := put(ctx, store, state.KeyUsers, users); err != nil {
			return written, err
		}
		written = append(written, state.KeyUsers)
	}

	if len(f.Posts) > 0 {
		posts := make([]models.Post, 0, len(f.Posts))
		for _, p := range f.Posts {
			posts = append(posts, models.Post{
				ID:        p.ID,
				AuthorID:  p.Author,
				Body:      p.Body,
				CreatedAt: now,
			})
		}
		if err := put(ctx, store, state.KeyPosts, posts); err != nil {
			return written, err
		}
		written = append(written, state.KeyPosts)
	}

	if len(f.Collaborations) > 0 {
		collabs := make([]models.Collaboration, 0, len(f.Collaborations))
		for _, c := range f.Collaborations {
			status := models.CollabStatus(c.Status)
			if c.Status == "" {
				status = models.CollabOpen
			}
			collabs = append(collabs, models.Collaboration{
				ID:          c.ID,
				AuthorID:    c.Author,
				Title:       c.Title,
				Description: c.Description,
				Status:      status,
				CreatedAt:   now,
			})
		}
		if err := put(ctx, store, state.KeyCollaborations, collabs); err != nil {
			return written, err
		}
		written = append(written, state.KeyCollaborations)
	}

	if f.Theme != "" {
		if err := put(ctx, store, state.KeyTheme, models.Theme{Mode: models.NormalizeThemeMode(f.Theme)}); err != nil {
			return written, err
		}
		written = append(written, state.KeyTheme)
	}

	return written, nil
}

func put(ctx context.Context, store remote.Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := store.Upsert(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
