package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// seedDoc is the layout of SEED_FILE:
//
//	users:
//	  - email: alice@example.com
//	    nick: alice
//	    password: secret   # optional, generated and logged when empty
//	posts:
//	  - author: alice@example.com
//	    content: "hello #nodebird"
type seedDoc struct {
	Users []struct {
		Email    string `yaml:"email"`
		Nick     string `yaml:"nick"`
		Password string `yaml:"password"`
	} `yaml:"users"`
	Posts []struct {
		Author  string `yaml:"author"`
		Content string `yaml:"content"`
	} `yaml:"posts"`
}

// SeedResult counts what a seed run changed.
type SeedResult struct {
	UsersCreated int
	UsersSkipped int
	PostsCreated int
}

func parseSeedYAML(b []byte) (seedDoc, error) {
	var doc seedDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("seed file is not valid YAML: %w", err)
	}
	for i := range doc.Users {
		u := &doc.Users[i]
		u.Email = strings.TrimSpace(u.Email)
		u.Nick = strings.TrimSpace(u.Nick)
		if u.Email == "" || u.Nick == "" {
			return doc, fmt.Errorf("seed user %d: email and nick are required", i+1)
		}
		if tooLong(u.Email, maxEmailLen) || tooLong(u.Nick, maxNickLen) {
			return doc, fmt.Errorf("seed user %d: email or nick too long", i+1)
		}
		if len(u.Password) > maxPasswordBytes {
			return doc, fmt.Errorf("seed user %s: password longer than %d bytes", u.Email, maxPasswordBytes)
		}
	}
	for i := range doc.Posts {
		p := &doc.Posts[i]
		p.Author = strings.TrimSpace(p.Author)
		p.Content = strings.TrimSpace(p.Content)
		if p.Author == "" || p.Content == "" {
			return doc, fmt.Errorf("seed post %d: author and content are required", i+1)
		}
		if tooLong(p.Content, maxPostLen) {
			return doc, fmt.Errorf("seed post %d: content longer than %d characters", i+1, maxPostLen)
		}
	}
	return doc, nil
}

// SeedFromFile loads users and posts from a YAML file. It is idempotent:
// users whose email already exists are skipped together with their posts.
func SeedFromFile(ctx context.Context, path string, users UserRepository, posts PostRepository, logger *zap.Logger) (SeedResult, error) {
	var res SeedResult
	b, err := os.ReadFile(path)
	if err != nil {
		return res, err
	}
	doc, err := parseSeedYAML(b)
	if err != nil {
		return res, err
	}

	created := map[string]int64{}
	for _, u := range doc.Users {
		if _, err := users.FindByEmail(ctx, u.Email); err == nil {
			res.UsersSkipped++
			continue
		} else if !errors.Is(err, ErrUserNotFound) {
			return res, err
		}

		password := u.Password
		if password == "" {
			if password, err = generatePassword(16); err != nil {
				return res, err
			}
			logger.Info("seed user created with generated password",
				zap.String("email", u.Email), zap.String("password", password))
		}
		hash, err := hashPassword(password, bcrypt.DefaultCost)
		if err != nil {
			return res, err
		}
		id, err := users.Create(ctx, NewUser{Email: u.Email, Nick: u.Nick, PasswordHash: hash, Provider: LocalStrategyName})
		if errors.Is(err, ErrUserExists) {
			res.UsersSkipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		created[u.Email] = id
		res.UsersCreated++
	}

	for _, p := range doc.Posts {
		id, ok := created[p.Author]
		if !ok {
			continue
		}
		if _, err := posts.Create(ctx, id, p.Content, ""); err != nil {
			return res, fmt.Errorf("seed post by %s: %w", p.Author, err)
		}
		res.PostsCreated++
	}
	return res, nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
