package deployment

import (
	"errors"
	"testing"

	"github.com/artpar/boxcompose/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// =============================================================================
// Interpolate Tests
// =============================================================================

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		table    map[string]string
		expected string
	}{
		{"simple", "${DB_HOST}", map[string]string{"DB_HOST": "localhost"}, "localhost"},
		{"default used when unset", "${PORT:-8080}", nil, "8080"},
		{"live value wins over default", "${PORT:-8080}", map[string]string{"PORT": "3000"}, "3000"},
		{"empty default", "${EMPTY:-}", nil, ""},
		{"set to empty wins over default", "${X:-fallback}", map[string]string{"X": ""}, ""},
		{"dash without colon", "${X-fallback}", nil, "fallback"},
		{"multiple", "postgres://${HOST}:${PORT}", map[string]string{"HOST": "db", "PORT": "5432"}, "postgres://db:5432"},
		{"no placeholders", "plain text", map[string]string{"KEY": "value"}, "plain text"},
		{"empty string", "", nil, ""},
		{"unresolved left as is", "${MISSING}", nil, "${MISSING}"},
		{"stops at first unresolved", "${MISSING}-${HOST}", map[string]string{"HOST": "db"}, "${MISSING}-${HOST}"},
		{"resolves before unresolved", "${HOST}-${MISSING}", map[string]string{"HOST": "db"}, "db-${MISSING}"},
		{"chained through table", "${A}", map[string]string{"A": "${B}", "B": "end"}, "end"},
		{"nested default", "${A:-${B}}", map[string]string{"B": "inner"}, "inner"},
		{"set outer wins over unresolved nested default", "${A:-${B}}", map[string]string{"A": "real"}, "real"},
		{"set outer wins inside text", "x-${A:-${B}}-y", map[string]string{"A": "real"}, "x-real-y"},
		{"set outer skips nested required", "${A:-${B:?needed}}", map[string]string{"A": "real"}, "real"},
		{"nested default both unset", "${A:-${B}}", nil, "${A:-${B}}"},
		{"deeply nested default", "${A:-${B:-${C}}}", map[string]string{"B": "mid"}, "mid"},
		{"self reference stops", "${A}", map[string]string{"A": "${A}"}, "${A}"},
		{"required set", "${TOKEN:?token is required}", map[string]string{"TOKEN": "t0k"}, "t0k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Interpolate(tt.value, tt.table)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestInterpolate_RequiredMissing(t *testing.T) {
	_, err := Interpolate("key=${TOKEN:?token is required}", map[string]string{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequiredVariable)

	var reqErr *RequiredVariableError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "TOKEN", reqErr.Name)
	assert.Equal(t, "token is required", reqErr.Message)
	assert.Contains(t, err.Error(), "token is required")
}

func TestInterpolate_IdempotentOnResolvedInput(t *testing.T) {
	table := map[string]string{"A": "1", "B": "2"}
	first, err := Interpolate("${A}/${B:-x}/plain", table)
	require.NoError(t, err)

	second, err := Interpolate(first, table)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInterpolate_SelfGrowingValueTerminates(t *testing.T) {
	result, err := Interpolate("${A}", map[string]string{"A": "x${A}"})
	require.NoError(t, err)
	assert.Contains(t, result, "x")
}

// =============================================================================
// UnresolvedVariables Tests
// =============================================================================

func TestUnresolvedVariables(t *testing.T) {
	values := map[string]string{
		"A": "${DB_PASSWORD}",
		"B": "${DB_PASSWORD}-${API_KEY:-x}",
		"C": "plain",
	}
	assert.Equal(t, []string{"API_KEY", "DB_PASSWORD"}, UnresolvedVariables(values))
	assert.Empty(t, UnresolvedVariables(map[string]string{"A": "plain"}))
}

// =============================================================================
// MergeEnvironment Tests
// =============================================================================

func TestMergeEnvironment_Precedence(t *testing.T) {
	merged := MergeEnvironment(
		map[string]string{"A": "ambient", "B": "ambient"},
		map[string]string{"B": "dotenv", "C": "dotenv"},
		map[string]string{"C": "file"},
	)
	assert.Equal(t, map[string]string{"A": "ambient", "B": "dotenv", "C": "file"}, merged)
}

func TestMergeEnvironment_TemplateDoesNotOverrideConcrete(t *testing.T) {
	merged := MergeEnvironment(
		map[string]string{"HOST": "db.internal"},
		map[string]string{"HOST": "${HOST:-localhost}", "NEW": "${NEW:-x}"},
	)
	assert.Equal(t, "db.internal", merged["HOST"])
	assert.Equal(t, "${NEW:-x}", merged["NEW"])
}

func TestMergeEnvironment_NilLayers(t *testing.T) {
	merged := MergeEnvironment(nil, map[string]string{"A": "1"}, nil)
	assert.Equal(t, map[string]string{"A": "1"}, merged)
}

// =============================================================================
// ResolveServiceEnvironment Tests
// =============================================================================

func TestResolveServiceEnvironment_DefaultFromEmptyTables(t *testing.T) {
	project := NewProjectContext("shop", "/work")
	service := compose.Service{
		Image:       "x",
		Environment: compose.MappingOrList{{Key: "DB_HOST", Value: strPtr("${DB_HOST:-localhost}")}},
	}

	env, err := ResolveServiceEnvironment("app", service, nil, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"DB_HOST": "localhost"}, env)
}

func TestResolveServiceEnvironment_Layers(t *testing.T) {
	project := NewProjectContext("shop", "/work")
	project.Ambient = map[string]string{"HOME": "/root", "REGION": "eu"}
	project.Env = map[string]string{"LOG_LEVEL": "info", "REGION_COPY": "${REGION}"}
	envFiles := []map[string]string{
		{"LOG_LEVEL": "debug", "FROM_FILE": "1"},
		{"FROM_FILE": "2"},
	}
	service := compose.Service{
		Image: "x",
		Environment: compose.MappingOrList{
			{Key: "INLINE", Value: strPtr("yes")},
			{Key: "HOME"},
		},
	}

	env, err := ResolveServiceEnvironment("app", service, envFiles, project)
	require.NoError(t, err)

	assert.Equal(t, "debug", env["LOG_LEVEL"])
	assert.Equal(t, "2", env["FROM_FILE"])
	assert.Equal(t, "yes", env["INLINE"])
	assert.Equal(t, "eu", env["REGION_COPY"])
	assert.Equal(t, "/root", env["HOME"], "key-only entry inherits from the ambient environment")
	assert.NotContains(t, env, "REGION", "ambient keys are not emitted")
}

func TestResolveServiceEnvironment_KeyOnlyWithoutValueOmitted(t *testing.T) {
	project := NewProjectContext("shop", "/work")
	service := compose.Service{Image: "x", Environment: compose.MappingOrList{{Key: "UNSET"}}}

	env, err := ResolveServiceEnvironment("app", service, nil, project)
	require.NoError(t, err)
	assert.NotContains(t, env, "UNSET")
}

func TestResolveServiceEnvironment_AddressSubstitution(t *testing.T) {
	project := NewProjectContext("shop", "/work")
	project.RecordAddress("db", "192.168.64.3")
	service := compose.Service{
		Image: "x",
		Environment: compose.MappingOrList{
			{Key: "DB_HOST", Value: strPtr("db")},
			{Key: "DB_URL", Value: strPtr("postgres://db:5432")},
			{Key: "CACHE_HOST", Value: strPtr("cache")},
			{Key: "SELF", Value: strPtr("app")},
		},
	}
	project.RecordAddress("app", "192.168.64.9")

	env, err := ResolveServiceEnvironment("app", service, nil, project)
	require.NoError(t, err)
	assert.Equal(t, "192.168.64.3", env["DB_HOST"])
	assert.Equal(t, "postgres://db:5432", env["DB_URL"], "only exact matches are replaced")
	assert.Equal(t, "cache", env["CACHE_HOST"], "unknown address leaves the name")
	assert.Equal(t, "app", env["SELF"])
}

func TestResolveServiceEnvironment_RequiredMissing(t *testing.T) {
	project := NewProjectContext("shop", "/work")
	service := compose.Service{
		Image:       "x",
		Environment: compose.MappingOrList{{Key: "TOKEN", Value: strPtr("${TOKEN:?set TOKEN in .env}")}},
	}

	_, err := ResolveServiceEnvironment("app", service, nil, project)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequiredVariable)
	assert.Contains(t, err.Error(), "set TOKEN in .env")
}

func TestProjectContext_RecordAddressRewritesProjectEnv(t *testing.T) {
	project := NewProjectContext("shop", "/work")
	project.Env = map[string]string{"DB": "db", "OTHER": "dbx"}

	project.RecordAddress("db", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", project.Env["DB"])
	assert.Equal(t, "dbx", project.Env["OTHER"])
	assert.Equal(t, "10.0.0.2", project.Addresses["db"])

	project.RecordAddress("cache", "")
	assert.NotContains(t, project.Addresses, "cache")
}

// =============================================================================
// InterpolateService Tests
// =============================================================================

func TestInterpolateService(t *testing.T) {
	service := compose.Service{
		Name:     "web",
		Image:    "nginx:${TAG:-latest}",
		Volumes:  compose.VolumeList{"${DATA_DIR}:/data"},
		Ports:    compose.PortList{"${PORT:-8080}:80"},
		Networks: compose.NetworkRefs{{Name: "${NET}"}},
		Build: &compose.Build{
			Context: "${CTX:-.}",
			Args:    compose.MappingOrList{{Key: "V", Value: strPtr("${VERSION}")}},
		},
	}
	table := map[string]string{"DATA_DIR": "./data", "NET": "backend", "VERSION": "1.0"}

	out, err := InterpolateService(service, table)
	require.NoError(t, err)
	assert.Equal(t, "nginx:latest", out.Image)
	assert.Equal(t, []string{"./data:/data"}, []string(out.Volumes))
	assert.Equal(t, []string{"8080:80"}, []string(out.Ports))
	assert.Equal(t, "backend", out.Networks[0].Name)
	assert.Equal(t, ".", out.Build.Context)
	assert.Equal(t, "1.0", out.Build.Args.Map()["V"])

	assert.Equal(t, "${DATA_DIR}:/data", service.Volumes[0], "input is not mutated")
	assert.Equal(t, "${VERSION}", *service.Build.Args[0].Value)
}

func TestInterpolateService_RequiredMissing(t *testing.T) {
	service := compose.Service{Name: "web", Image: "${IMAGE:?image must be set}"}
	_, err := InterpolateService(service, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequiredVariable)
}
