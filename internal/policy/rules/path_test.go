package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/policy/rules"
)

func TestProtectedFiles(t *testing.T) {
	rule := rules.ProtectedFiles()

	cases := []struct {
		path   string
		denied bool
	}{
		{"wallet.json", true},
		{"WALLET.JSON", true}, // case-insensitive
		{"/home/agent/.env", true},
		{"config/config.json", true},
		{"/root/.ssh/id_rsa", true},
		{"notes.txt", false},
		{"/tmp/scratch/wallet_json_backup.txt", false}, // not an exact basename match
	}
	for _, c := range cases {
		got := eval(t, rule, "write_file", map[string]any{"path": c.path})
		if c.denied {
			require.NotNil(t, got, "path %q should be denied", c.path)
			assert.Equal(t, "PROTECTED_FILE", got.ReasonCode)
		} else {
			assert.Nil(t, got, "path %q should not be denied", c.path)
		}
	}
}

func TestReadSensitive(t *testing.T) {
	rule := rules.ReadSensitive()

	assert.NotNil(t, eval(t, rule, "read_file", map[string]any{"path": "id.pem"}))
	assert.NotNil(t, eval(t, rule, "read_file", map[string]any{"path": "private-key-backup"}))
	assert.NotNil(t, eval(t, rule, "read_file", map[string]any{"path": "wallet.json"}))
	assert.Nil(t, eval(t, rule, "read_file", map[string]any{"path": "README.md"}))
}

func TestTraversalDetection(t *testing.T) {
	rule := rules.TraversalDetection()

	assert.NotNil(t, eval(t, rule, "read_file", map[string]any{"path": "../../etc/passwd"}))
	assert.NotNil(t, eval(t, rule, "read_file", map[string]any{"path": "a//b"}))
	assert.Nil(t, eval(t, rule, "read_file", map[string]any{"path": "subdir/../file.txt"}), "traversal that stays inside cwd is fine")
	assert.Nil(t, eval(t, rule, "read_file", map[string]any{"path": "notes/today.md"}))
}
