package geo

import "testing"

func TestTableSize(t *testing.T) {
	ps := Provinces()
	if len(ps) != 52 {
		t.Fatalf("got %d provinces, want 52", len(ps))
	}
	ps[0].Name = "mutated"
	if Provinces()[0].Name == "mutated" {
		t.Fatal("Provinces must return a copy")
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		province, community string
		want                bool
	}{
		{"Barcelona", "Cataluña", true},
		{"Málaga", "Andalucía", true},
		{"Barcelona", "Andalucía", false},
		{"Atlantis", "Andalucía", false},
		// Stored values are compared exactly.
		{"barcelona", "Cataluña", false},
		{"Ceuta", "Ceuta", true},
	}
	for _, tt := range tests {
		if got := Valid(tt.province, tt.community); got != tt.want {
			t.Errorf("Valid(%q, %q) = %v, want %v", tt.province, tt.community, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Palacio de Ferias, 29004 MALAGA", "Málaga", true},
		{"Barakaldo, Vizcaya", "Bizkaia", true},
		{"Recinto Ferial, Santa Cruz de Tenerife", "Santa Cruz de Tenerife", true},
		{"Auditorio, Tenerife", "Santa Cruz de Tenerife", true},
		{"Streaming", "", false},
	}
	for _, tt := range tests {
		p, ok := Detect(tt.text)
		if ok != tt.ok || p.Name != tt.want {
			t.Errorf("Detect(%q) = %q, %v; want %q, %v", tt.text, p.Name, ok, tt.want, tt.ok)
		}
	}
}

func TestFold(t *testing.T) {
	if Fold("Málaga") != Fold("malaga") {
		t.Fatal("accents and case should fold away")
	}
	if got := Fold("ÁVILA Cáceres"); got != "avila caceres" {
		t.Fatalf("Fold = %q", got)
	}
}

func TestCommunities(t *testing.T) {
	cs := Communities()
	if len(cs) != 19 {
		t.Fatalf("got %d communities, want 19", len(cs))
	}
	total := 0
	for _, c := range cs {
		ps := ProvincesIn(c)
		if len(ps) == 0 {
			t.Fatalf("community %q has no provinces", c)
		}
		for _, p := range ps {
			if !Valid(p, c) {
				t.Errorf("%q listed under %q", p, c)
			}
		}
		total += len(ps)
	}
	if total != 52 {
		t.Fatalf("provinces across communities = %d, want 52", total)
	}
	if got := ProvincesIn("Atlántida"); got != nil {
		t.Fatalf("unknown community = %v", got)
	}
}
