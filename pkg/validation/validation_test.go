package validation

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "simple", in: "AAPL", want: "AAPL"},
		{name: "lowercase", in: "msft", want: "MSFT"},
		{name: "whitespace", in: "  tsla ", want: "TSLA"},
		{name: "empty", in: "", wantErr: true},
		{name: "too long", in: "ABCDEFGHIJK", wantErr: true},
		{name: "digits", in: "12345678901", wantErr: true},
		{name: "hyphen", in: "ab-c", wantErr: true},
		{name: "spaces inside", in: "A B", wantErr: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := NormalizeSymbol(c.in)
			if (err != nil) != c.wantErr {
				t.Fatalf("err = %v; wantErr %v", err, c.wantErr)
			}
			if err == nil && got != c.want {
				t.Errorf("NormalizeSymbol(%q) = %q; want %q", c.in, got, c.want)
			}
		})
	}
}

func TestNormalizeQuery(t *testing.T) {
	if _, err := NormalizeQuery("  "); err == nil {
		t.Error("expected error for blank query")
	}
	if _, err := NormalizeQuery("apple inc"); err != nil {
		t.Errorf("unexpected error for valid query: %v", err)
	}
	got, err := NormalizeQuery(" Johnson & Johnson ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Johnson & Johnson" {
		t.Errorf("NormalizeQuery trimmed = %q", got)
	}
}

func TestValidateStruct_SymbolTag(t *testing.T) {
	type req struct {
		Symbols []string `validate:"required,min=1,max=10,dive,symbol"`
	}
	if err := ValidateStruct(req{Symbols: []string{"AAPL", "msft"}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateStruct(req{Symbols: []string{}}); err == nil {
		t.Error("expected error for empty symbol list")
	}
	if err := ValidateStruct(req{Symbols: []string{"bad-sym"}}); err == nil {
		t.Error("expected error for malformed symbol")
	}
}
