package correlate

import "testing"

func TestTemplateMasksVolatileParts(t *testing.T) {
	cases := []struct {
		name string
		a    string
		b    string
	}{
		{"numbers", "request took 421ms", "request took 87ms"},
		{"ips", "connection refused to 10.0.0.1:8080", "connection refused to 192.168.4.20:8080"},
		{"uuids", "session 9f1b2c3d-4e5f-6a7b-8c9d-0e1f2a3b4c5d expired", "session 11111111-2222-3333-4444-555555555555 expired"},
		{"quoted", `user "alice" not found`, `user "bob" not found`},
		{"case", "Disk Full on /var", "disk full on /var"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if Template(tc.a) != Template(tc.b) {
				t.Fatalf("templates differ:\n  %q -> %q\n  %q -> %q", tc.a, Template(tc.a), tc.b, Template(tc.b))
			}
		})
	}
}

func TestTemplateKeepsShapeDistinct(t *testing.T) {
	if Template("connection refused") == Template("disk full") {
		t.Fatal("distinct messages must not collapse")
	}
}

func TestSignatureIncludesLabel(t *testing.T) {
	if Signature("connectivity", "connection refused") == Signature("latency", "connection refused") {
		t.Fatal("label must contribute to signature")
	}
}

func TestSourceGroup(t *testing.T) {
	cases := map[string]string{
		"web-1":           "web",
		"web-2":           "web",
		"web":             "web",
		"db_3":            "db",
		"api-7f9c2":       "api",
		"checkout-1-a1b2": "checkout",
		"payments.9":      "payments",
	}
	for in, want := range cases {
		if got := SourceGroup(in); got != want {
			t.Fatalf("SourceGroup(%q) = %q, want %q", in, got, want)
		}
	}
}
