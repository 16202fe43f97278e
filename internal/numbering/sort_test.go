package numbering

import (
	"errors"
	"reflect"
	"testing"

	"github.com/voyagen/lineup/internal/models"
)

func TestNaturalCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"ch2", "ch10", -1},
		{"ch10", "ch2", 1},
		{"abc", "abc", 0},
		{"a", "ab", -1},
		{"007", "7", 1},
		{"item 9 hd", "item 10 hd", -1},
	}
	for _, tt := range tests {
		if got := NaturalCompare(tt.a, tt.b); got != tt.want {
			t.Errorf("NaturalCompare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSortKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		norm Normalization
		want string
	}{
		{"101 - ESPN", Normalization{StripNumber: true}, "espn"},
		{"US: ESPN", Normalization{StripPrefix: true}, "espn"},
		{"12 | UK: BBC One", Normalization{StripNumber: true, StripPrefix: true}, "bbc one"},
		{"US: ESPN", Normalization{}, "us: espn"},
	}
	for _, tt := range tests {
		if got := SortKey(tt.name, tt.norm); got != tt.want {
			t.Errorf("SortKey(%q, %+v) = %q, want %q", tt.name, tt.norm, got, tt.want)
		}
	}
}

func TestSortAndRenumber(t *testing.T) {
	t.Parallel()

	group := []models.Channel{
		channel(1, 1, "b", 1),
		channel(2, 2, "A10", 1),
		channel(3, 3, "a2", 1),
	}
	out, err := SortAndRenumber(group, 1, Normalization{}, Options{})
	if err != nil {
		t.Fatalf("SortAndRenumber: %v", err)
	}
	want := []Assignment{{ChannelID: 3, Number: 1}, {ChannelID: 1, Number: 3}}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %+v, want %+v", out, want)
	}
}

func TestSortAndRenumberStripsNumbersFromKey(t *testing.T) {
	t.Parallel()

	group := []models.Channel{
		channel(1, 1, "1 - Zulu", 1),
		channel(2, 2, "2 - Alpha", 1),
	}
	out, err := SortAndRenumber(group, 100, Normalization{StripNumber: true}, Options{AutoRename: true})
	if err != nil {
		t.Fatalf("SortAndRenumber: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %+v", out)
	}
	if out[0].ChannelID != 2 || out[0].Number != 100 || *out[0].Name != "100 - Alpha" {
		t.Fatalf("first = %+v", out[0])
	}
	if out[1].ChannelID != 1 || out[1].Number != 101 || *out[1].Name != "101 - Zulu" {
		t.Fatalf("second = %+v", out[1])
	}
}

func TestSortAndRenumberValidation(t *testing.T) {
	t.Parallel()

	var verr *ValidationError
	if _, err := SortAndRenumber(nil, 1, Normalization{}, Options{}); !errors.As(err, &verr) {
		t.Fatalf("empty group err = %v", err)
	}
	group := []models.Channel{channel(1, 1, "A", 1)}
	if _, err := SortAndRenumber(group, -1, Normalization{}, Options{}); !errors.As(err, &verr) {
		t.Fatalf("negative start err = %v", err)
	}
}
