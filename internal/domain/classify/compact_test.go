package classify

import (
	"reflect"
	"strings"
	"testing"
)

func TestDecodeLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want Classification
	}{
		{
			name: "repair request",
			line: "1|1|1|1=2|0|3|Ищет ремонтную бригаду",
			want: Classification{
				ID:      "1",
				Intents: []string{"REQUEST"},
				Domains: []DomainTags{
					{Domain: "CONSTRUCTION_AND_REPAIR", Subcategories: []string{"REPAIR_SERVICES"}},
				},
				Urgency:   3,
				Reasoning: "Ищет ремонтную бригаду",
			},
		},
		{
			name: "multiple intents and domains",
			line: "7|1,3|4,10|4=2,6;10=4|0|2|Советуют мастера по роутерам",
			want: Classification{
				ID:      "7",
				Intents: []string{"REQUEST", "RECOMMENDATION"},
				Domains: []DomainTags{
					{Domain: "SERVICES", Subcategories: []string{"HOUSEHOLD_SERVICES", "TECH_REPAIR"}},
					{Domain: "UTILITIES", Subcategories: []string{"INTERNET_AND_TV"}},
				},
				Urgency:   2,
				Reasoning: "Советуют мастера по роутерам",
			},
		},
		{
			name: "spam",
			line: "2|6|12||1|1|Реклама казино",
			want: Classification{
				ID:          "2",
				Intents:     []string{"OTHER"},
				Domains:     []DomainTags{{Domain: "NONE"}},
				IsSpam:      true,
				Urgency:     1,
				Reasoning:   "Реклама казино",
				NeedsReview: true,
			},
		},
		{
			name: "none coalesced with real domain",
			line: "3|2|1,12||0|2|Бригада предлагает услуги",
			want: Classification{
				ID:        "3",
				Intents:   []string{"OFFER"},
				Domains:   []DomainTags{{Domain: "CONSTRUCTION_AND_REPAIR"}},
				Urgency:   2,
				Reasoning: "Бригада предлагает услуги",
			},
		},
		{
			name: "reasoning keeps inner pipes",
			line: "4|5|12||0|1|формат a|b|c",
			want: Classification{
				ID:          "4",
				Intents:     []string{"INFO"},
				Domains:     []DomainTags{{Domain: "NONE"}},
				Urgency:     1,
				Reasoning:   "формат a|b|c",
				NeedsReview: true,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeLine(tt.line)
			if err != nil {
				t.Fatalf("DecodeLine(%q): %v", tt.line, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeLine(%q) =\n%+v\nwant\n%+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestDecodeLineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "1|1|1|0|3"},
		{"empty id", " |1|1||0|3|x"},
		{"unknown intent code", "1|9|1||0|3|x"},
		{"unknown domain code", "1|1|99||0|3|x"},
		{"subcategory of unselected domain", "1|1|1|2=1|0|3|x"},
		{"subcategory on NONE", "1|1|12|12=1|0|1|x"},
		{"unknown subcategory code", "1|1|1|1=9|0|3|x"},
		{"bad spam flag", "1|1|1||2|3|x"},
		{"urgency out of range", "1|1|1||0|6|x"},
		{"urgency not a number", "1|1|1||0|high|x"},
		{"empty domains", "1|1|||0|3|x"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeLine(tt.line); err == nil {
				t.Errorf("DecodeLine(%q) succeeded, want error", tt.line)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	lines := []string{
		"1|1|1|1=2|0|3|Ищет ремонтную бригаду",
		"2|2,5|4,9|4=1;9=2|0|2|Предлагает парковку",
		"3|6|12||1|1|Спам",
	}

	for _, line := range lines {
		c, err := DecodeLine(line)
		if err != nil {
			t.Fatalf("DecodeLine(%q): %v", line, err)
		}
		encoded, err := EncodeLine(c)
		if err != nil {
			t.Fatalf("EncodeLine(%+v): %v", c, err)
		}
		if encoded != line {
			t.Errorf("round trip mismatch:\n in: %q\nout: %q", line, encoded)
		}
	}
}

func TestSyntheticClassifications(t *testing.T) {
	t.Parallel()

	forced := Forced([]string{"пожар"})
	if forced.Intents[0] != IntentRequest || forced.Domains[0].Domain != DomainConstruction {
		t.Errorf("Forced = %+v", forced)
	}
	if forced.Urgency != 3 || !strings.Contains(forced.Reasoning, "Forced") {
		t.Errorf("Forced urgency/reasoning = %d %q", forced.Urgency, forced.Reasoning)
	}

	filtered := Filtered([]string{"реклам"})
	if filtered.Intents[0] != IntentOther || filtered.Domains[0].Domain != DomainNone || filtered.Urgency != 1 {
		t.Errorf("Filtered = %+v", filtered)
	}

	empty := EmptyText()
	if empty.Domains[0].Domain != DomainNone || empty.Urgency != 1 {
		t.Errorf("EmptyText = %+v", empty)
	}
}

func TestTaxonomyCodes(t *testing.T) {
	t.Parallel()

	if code := DomainCode(DomainNone); code != len(Domains()) {
		t.Errorf("NONE code = %d, want %d", code, len(Domains()))
	}
	if subs := Subcategories(DomainNone); subs != nil {
		t.Errorf("NONE subcategories = %v, want nil", subs)
	}
	for _, d := range Domains() {
		if d == DomainNone {
			continue
		}
		if len(Subcategories(d)) == 0 {
			t.Errorf("domain %s has no subcategories", d)
		}
	}
	// Коды обратимы.
	for i, d := range Domains() {
		got, ok := DomainByCode(i + 1)
		if !ok || got != d {
			t.Errorf("DomainByCode(%d) = %q %v, want %q", i+1, got, ok, d)
		}
	}
}
