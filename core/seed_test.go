package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const seedYAML = `
users:
  - email: alice@example.com
    nick: alice
    password: wonderland
  - email: bob@example.com
    nick: bob
posts:
  - author: alice@example.com
    content: "hello #nodebird"
  - author: bob@example.com
    content: "bob was here"
  - author: nobody@example.com
    content: "ignored"
`

func TestSeedFromFileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewSQLUserRepository(db)
	posts := NewSQLPostRepository(db)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	res, err := SeedFromFile(ctx, path, users, posts, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, SeedResult{UsersCreated: 2, PostsCreated: 2}, res)

	auth := NewAuthenticator(users).Use(NewLocalStrategy(users))
	u, err := auth.Authenticate(ctx, LocalStrategyName, Credentials{Identifier: "alice@example.com", Secret: "wonderland"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Nick)

	res, err = SeedFromFile(ctx, path, users, posts, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, SeedResult{UsersSkipped: 2}, res)

	_, total, err := posts.Timeline(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	tagged, _, err := posts.ListByHashtag(ctx, "nodebird", 1, 10)
	require.NoError(t, err)
	assert.Len(t, tagged, 1)
}

func TestParseSeedYAMLValidates(t *testing.T) {
	_, err := parseSeedYAML([]byte("users: [{email: a@example.com}]"))
	assert.Error(t, err)
	_, err = parseSeedYAML([]byte("posts: [{author: a@example.com}]"))
	assert.Error(t, err)
	_, err = parseSeedYAML([]byte("users: {"))
	assert.Error(t, err)
	_, err = parseSeedYAML([]byte("users: [{email: a@example.com, nick: waytoolongnickname}]"))
	assert.Error(t, err)
	_, err = parseSeedYAML([]byte("posts: [{author: a@example.com, content: " + strings.Repeat("x", 141) + "}]"))
	assert.Error(t, err)
	_, err = parseSeedYAML([]byte("posts: [{author: a@example.com, content: " + strings.Repeat("x", 140) + "}]"))
	assert.NoError(t, err)
}

func TestGeneratePassword(t *testing.T) {
	p, err := generatePassword(16)
	require.NoError(t, err)
	assert.Len(t, p, 16)
	_, err = generatePassword(0)
	assert.Error(t, err)
}
