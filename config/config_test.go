package config

import "testing"

func TestValidatePathPrefix(t *testing.T) {
	cases := []struct {
		prefix  string
		wantErr bool
	}{
		{"", false},
		{"/mcp", false},
		{"mcp", true},
		{"/mcp/", true},
	}
	for _, c := range cases {
		cfg := Config{PathPrefix: c.prefix}
		err := cfg.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("Validate(%q): got err=%v, wantErr=%v", c.prefix, err, c.wantErr)
		}
	}
}
