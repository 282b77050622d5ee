package vendorui

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `
name: vendor-2024-06
list_url: https://portal.example.org/cases
pager:
  label_selector: ".paginator .range"
login:
  url: https://portal.example.org/login
  user_selector: "#user"
  pass_selector: "#pass"
  submit_selector: "#login"
  success_selector: ".topbar .account"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, "vendor-2024-06", p.Name)
	assert.Equal(t, "https://portal.example.org/cases", p.ListURL)
	assert.Equal(t, ".paginator .range", p.Pager.LabelSelector)
	assert.Equal(t, "#user", p.Login.UserSelector)

	// Sections absent from the file keep the built-in selectors.
	assert.Equal(t, DefaultProfile().List.RowSelector, p.List.RowSelector)
	assert.Equal(t, DefaultProfile().Billing.SubmitSelector, p.Billing.SubmitSelector)
}

func TestLoadProfileRejectsMissingListURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: incomplete\n"), 0o644))

	_, err := LoadProfile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list_url")
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDefaultProfileHasRequiredSelectors(t *testing.T) {
	p := DefaultProfile()
	p.ListURL = "https://portal.example.org/cases"
	assert.NoError(t, p.Validate())
}
