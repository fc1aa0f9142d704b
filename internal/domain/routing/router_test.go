package routing

import (
	"reflect"
	"testing"

	"leadpipe/internal/domain/classify"
)

func mustParse(t *testing.T, config string) *Table {
	t.Helper()
	table, err := Parse([]byte(config))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return table
}

func domainsOf(pairs ...any) []classify.DomainTags {
	var out []classify.DomainTags
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, classify.DomainTags{
			Domain:        pairs[i].(string),
			Subcategories: pairs[i+1].([]string),
		})
	}
	return out
}

func TestParseRequiresFallback(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{"domains": {}}`)); err == nil {
		t.Fatal("expected error for missing fallback, got nil")
	}
}

func TestDestinationsScalarForms(t *testing.T) {
	t.Parallel()

	table := mustParse(t, `{
		"domains": {
			"CONSTRUCTION_AND_REPAIR": -1000,
			"SERVICES": null,
			"MARKETPLACE": "muted",
			"REPUTATION": false
		},
		"fallback": -999
	}`)

	tests := []struct {
		name    string
		domains []classify.DomainTags
		want    []int64
	}{
		{"int scalar", domainsOf("CONSTRUCTION_AND_REPAIR", []string{}), []int64{-1000}},
		{"null resolves to fallback", domainsOf("SERVICES", []string{}), []int64{-999}},
		{"muted string drops", domainsOf("MARKETPLACE", []string{}), nil},
		{"muted false drops", domainsOf("REPUTATION", []string{}), nil},
		{"unknown domain uses fallback", domainsOf("TRANSPORT", []string{}), []int64{-999}},
		{
			"duplicates preserved",
			domainsOf("CONSTRUCTION_AND_REPAIR", []string{}, "SERVICES", []string{}, "TRANSPORT", []string{}),
			[]int64{-1000, -999, -999},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := table.Destinations(tt.domains, nil)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Destinations = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDestinationsLocationOverride(t *testing.T) {
	t.Parallel()

	table := mustParse(t, `{
		"domains": {
			"CONSTRUCTION_AND_REPAIR": {
				"default": -1000,
				"subcategories": {
					"REPAIR_SERVICES": {
						"default": -1000,
						"location_overrides": [
							{"city": "moscow", "district": "szao", "chat_id": -1001},
							{"city": "moscow", "chat_id": -1002}
						]
					}
				}
			}
		},
		"fallback": -999
	}`)

	domains := domainsOf("CONSTRUCTION_AND_REPAIR", []string{"REPAIR_SERVICES"})

	tests := []struct {
		name      string
		locations []Location
		want      []int64
	}{
		{"exact city+district", []Location{{City: "moscow", District: "szao"}}, []int64{-1001}},
		{"city-only second pass", []Location{{City: "moscow", District: "uao"}}, []int64{-1002}},
		{"no location match falls to sub default", []Location{{City: "kazan"}}, []int64{-1000}},
		{"no locations at all", nil, []int64{-1000}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := table.Destinations(domains, tt.locations)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Destinations(%v) = %v, want %v", tt.locations, got, tt.want)
			}
		})
	}
}

func TestDestinationsMutedLevels(t *testing.T) {
	t.Parallel()

	table := mustParse(t, `{
		"domains": {
			"SERVICES": "muted",
			"MARKETPLACE": {
				"default": -2000,
				"subcategories": {
					"GIVE_AWAY": "muted"
				}
			}
		},
		"fallback": -999
	}`)

	// Глушение на уровне домена подавляет даже подходящую подкатегорию.
	if got := table.Destinations(domainsOf("SERVICES", []string{"AUTO_SERVICES"}), nil); got != nil {
		t.Errorf("top-level muted domain routed to %v", got)
	}

	// Глушение подкатегории действует только на совпавшую подкатегорию.
	if got := table.Destinations(domainsOf("MARKETPLACE", []string{"GIVE_AWAY"}), nil); got != nil {
		t.Errorf("muted subcategory routed to %v", got)
	}
	want := []int64{-2000}
	if got := table.Destinations(domainsOf("MARKETPLACE", []string{"BUY_SELL_GOODS"}), nil); !reflect.DeepEqual(got, want) {
		t.Errorf("non-muted subcategory = %v, want %v", got, want)
	}
}

func TestDestinationsGlobalMutedSubcategories(t *testing.T) {
	t.Parallel()

	table := mustParse(t, `{
		"domains": {"CONSTRUCTION_AND_REPAIR": -1000, "SERVICES": -2000},
		"muted_subcategories": ["REPAIR_SERVICES"],
		"fallback": -999
	}`)

	domains := domainsOf(
		"CONSTRUCTION_AND_REPAIR", []string{"REPAIR_SERVICES"},
		"SERVICES", []string{"AUTO_SERVICES"},
	)
	// Глобально заглушенная подкатегория отменяет маршрутизацию всего сообщения.
	if got := table.Destinations(domains, nil); got != nil {
		t.Errorf("globally muted subcategory routed to %v", got)
	}
}

func TestDestinationsDomainLevelOverrides(t *testing.T) {
	t.Parallel()

	table := mustParse(t, `{
		"domains": {
			"UTILITIES": {
				"default": -3000,
				"location_overrides": [
					{"city": "moscow", "chat_id": -3001}
				],
				"subcategories": {
					"HEATING": -3500
				}
			}
		},
		"fallback": -999
	}`)

	// Подкатегория без собственных переопределений решает сама.
	if got := table.Destinations(domainsOf("UTILITIES", []string{"HEATING"}), []Location{{City: "moscow"}}); !reflect.DeepEqual(got, []int64{-3500}) {
		t.Errorf("subcategory hit = %v, want [-3500]", got)
	}
	// Без совпадения подкатегории работают переопределения уровня домена.
	if got := table.Destinations(domainsOf("UTILITIES", []string{"ELECTRICITY"}), []Location{{City: "moscow"}}); !reflect.DeepEqual(got, []int64{-3001}) {
		t.Errorf("domain override = %v, want [-3001]", got)
	}
	// Ни подкатегории, ни локации — default домена.
	if got := table.Destinations(domainsOf("UTILITIES", []string{"ELECTRICITY"}), nil); !reflect.DeepEqual(got, []int64{-3000}) {
		t.Errorf("domain default = %v, want [-3000]", got)
	}
}
