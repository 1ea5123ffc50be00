package migrations

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_completions.sql", 1, false},
		{"012_add_index.sql", 12, false},
		{"initial.sql", 0, true},
		{"abc_x.sql", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDialectFiles(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		files, err := d.Files()
		if err != nil {
			t.Fatalf("%s Files() error = %v", d.Name, err)
		}
		if len(files) == 0 {
			t.Errorf("%s ships no migrations", d.Name)
		}
	}
	if SQLite.Latest() != 2 {
		t.Errorf("SQLite.Latest() = %d, want 2", SQLite.Latest())
	}
	if Postgres.Latest() != 1 {
		t.Errorf("Postgres.Latest() = %d, want 1", Postgres.Latest())
	}
}
