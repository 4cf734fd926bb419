package router

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/internal/storage"
	"github.com/joshsymonds/remediator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureStore(t *testing.T) storage.ObjectStore {
	t.Helper()
	store := storage.NewLocalStoreWithLogger(t.TempDir(), logger.NewMockLogger())
	for _, name := range []string{"policy-mappings.json", "policy-mappings.yaml"} {
		data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "rules", name))
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), "policy-bucket", "config/"+name, data))
	}
	return store
}

func TestLoad_JSON(t *testing.T) {
	store := fixtureStore(t)
	table := Load(context.Background(), store, "policy-bucket", "config/policy-mappings.json", "fallback.yml", logger.NewMockLogger())

	require.Len(t, table.Mappings, 3)
	assert.Equal(t, "s3-public-access", table.Mappings[0].Name)
	assert.Equal(t, []string{"credential*"}, table.Mappings[1].FindingType)
	assert.Equal(t, "policies/unified-security-policy.yml", table.DefaultPolicy)

	policy, ok := Select(&models.Finding{
		Source:       models.SourceGuardDuty,
		ResourceType: "AccessKey",
		FindingType:  "CredentialAccess:IAMUser/AnomalousBehavior",
	}, table)
	require.True(t, ok)
	assert.Equal(t, "policies/iam-disable-access-key.yml", policy)
}

func TestLoad_YAML(t *testing.T) {
	store := fixtureStore(t)
	table := Load(context.Background(), store, "policy-bucket", "config/policy-mappings.yaml", "fallback.yml", logger.NewMockLogger())

	require.Len(t, table.Mappings, 1)
	assert.Equal(t, []string{"s3"}, table.Mappings[0].ResourceType)

	policy, ok := Select(&models.Finding{Source: models.SourceMacie, ResourceType: "S3"}, table)
	require.True(t, ok)
	assert.Equal(t, "policies/s3-public-access.yml", policy)
}

func TestLoad_FailureFallsBackToDefault(t *testing.T) {
	log := logger.NewMockLogger()
	table := Load(context.Background(), fixtureStore(t), "policy-bucket", "config/missing.json", "policies/s3-createbucket.yml", log)

	assert.Empty(t, table.Mappings)
	assert.Equal(t, "policies/s3-createbucket.yml", table.DefaultPolicy)
	assert.True(t, log.HasContaining(slog.LevelWarn, "Failed to load policy mappings"))

	_, err := LoadStrict(context.Background(), fixtureStore(t), "policy-bucket", "config/missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("rules.json", []byte(`{"mappings": [`))
	assert.Error(t, err)

	_, err = Parse("rules.yml", []byte("mappings: [\n  - {"))
	assert.Error(t, err)
}

func TestLint(t *testing.T) {
	table := &RuleTable{Mappings: []Rule{
		{Name: "a", ResourceType: []string{"S3"}, PolicyFile: "a.yml"},
		{Name: "a", ResourceType: []string{"EC2"}, PolicyFile: "b.yml"},
		{Name: "no-policy", Source: []string{"macie"}},
		{Name: "catch-all", FindingType: []string{"*"}, PolicyFile: "all.yml"},
		{Name: "shadowed", Source: []string{"config"}, PolicyFile: "c.yml"},
	}}

	problems := Lint(table)
	require.Len(t, problems, 3)
	assert.Contains(t, problems[0].Message, "duplicate name")
	assert.Equal(t, "missing policy_file", problems[1].Message)
	assert.Equal(t, 4, problems[2].Index)
	assert.Contains(t, problems[2].String(), "unreachable")

	assert.Empty(t, Lint(testTable()))
}
