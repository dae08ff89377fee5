package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in             string
		wantNormalized string
		wantHost       string
		wantOK         bool
	}{
		{"https://example.com", "https://example.com", "example.com", true},
		{"http://example.com", "http://example.com", "example.com", true},
		{"https://Example.COM", "https://example.com", "example.com", true},
		{"  https://example.com  ", "https://example.com", "example.com", true},
		{"https://example.com:443", "https://example.com", "example.com", true},
		{"http://example.com:80", "http://example.com", "example.com", true},
		{"https://example.com:8443", "https://example.com:8443", "example.com:8443", true},
		{"http://localhost:3000", "http://localhost:3000", "localhost:3000", true},
		{"http://[::1]:3000", "http://[::1]:3000", "[::1]:3000", true},
		{"https://example.com/", "https://example.com", "example.com", true},
		{"null", "null", "", true},

		{"", "", "", false},
		{"example.com", "", "", false},
		{"ftp://example.com", "", "", false},
		{"ws://example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://example.com?q=1", "", "", false},
		{"https://example.com#frag", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:70000", "", "", false},
		{"https://example.com:abc", "", "", false},
	}
	for _, tt := range tests {
		normalized, host, ok := Normalize(tt.in)
		if ok != tt.wantOK {
			t.Errorf("Normalize(%q) ok=%v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if normalized != tt.wantNormalized || host != tt.wantHost {
			t.Errorf("Normalize(%q)=(%q,%q), want (%q,%q)", tt.in, normalized, host, tt.wantNormalized, tt.wantHost)
		}
	}
}

func TestAllowed_SameHostPolicy(t *testing.T) {
	tests := []struct {
		origin      string
		requestHost string
		want        bool
	}{
		{"https://example.com", "example.com", true},
		{"https://example.com", "example.com:443", true},
		{"http://example.com", "example.com:80", true},
		{"https://example.com:8443", "example.com:8443", true},
		{"http://localhost:3000", "localhost:3000", true},

		{"https://example.com", "other.com", false},
		{"https://example.com", "example.com:8443", false},
		{"https://example.com:8443", "example.com", false},
	}
	for _, tt := range tests {
		normalized, host, ok := Normalize(tt.origin)
		if !ok {
			t.Fatalf("Normalize(%q) failed", tt.origin)
		}
		if got := Allowed(normalized, host, tt.requestHost, nil); got != tt.want {
			t.Errorf("Allowed(%q, host=%q)=%v, want %v", tt.origin, tt.requestHost, got, tt.want)
		}
	}
}

func TestAllowed_NullOriginRejectedByDefault(t *testing.T) {
	if Allowed("null", "", "example.com", nil) {
		t.Fatalf("null origin allowed under same-host policy")
	}
	if !Allowed("null", "", "example.com", []string{"null"}) {
		t.Fatalf("null origin rejected despite explicit allow")
	}
}

func TestAllowed_ExplicitList(t *testing.T) {
	allowed := []string{"https://app.example.com", "http://localhost:3000"}

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"http://localhost:3000", true},
		{"https://evil.example.com", false},
		// The list replaces, not extends, the same-host policy.
		{"https://hub.example.com", false},
	}
	for _, tt := range cases {
		normalized, host, ok := Normalize(tt.origin)
		if !ok {
			t.Fatalf("Normalize(%q) failed", tt.origin)
		}
		if got := Allowed(normalized, host, "hub.example.com", allowed); got != tt.want {
			t.Errorf("Allowed(%q)=%v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestAllowed_Wildcard(t *testing.T) {
	normalized, host, _ := Normalize("https://anything.example.com")
	if !Allowed(normalized, host, "hub.example.com", []string{"*"}) {
		t.Fatalf("wildcard did not allow origin")
	}
}

func TestCheckRequest(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"no origin header", "", "example.com", nil, true},
		{"same host", "https://example.com", "example.com", nil, true},
		{"cross host", "https://other.com", "example.com", nil, false},
		{"malformed origin", "not a url", "example.com", nil, false},
		{"malformed origin with wildcard", ":::", "example.com", []string{"*"}, false},
		{"allowed list match", "https://app.example.com", "example.com", []string{"https://app.example.com"}, true},
	}
	for _, tt := range tests {
		if got := CheckRequest(tt.origin, tt.host, tt.allowed); got != tt.want {
			t.Errorf("%s: CheckRequest(%q, %q, %v)=%v, want %v", tt.name, tt.origin, tt.host, tt.allowed, got, tt.want)
		}
	}
}
