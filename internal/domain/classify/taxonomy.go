// Package classify содержит статическую таксономию классификации сообщений
// (интенты, домены, подкатегории), компактный строковый протокол обмена с LLM
// и синтетические классификации для сообщений, минующих LLM.
package classify

// Интенты автора сообщения. Порядок объявления фиксирует числовые коды
// компактного протокола (1-based).
const (
	IntentRequest        = "REQUEST"
	IntentOffer          = "OFFER"
	IntentRecommendation = "RECOMMENDATION"
	IntentComplaint      = "COMPLAINT"
	IntentInfo           = "INFO"
	IntentOther          = "OTHER"
)

// Домены сообщений. NONE всегда последний и не имеет подкатегорий.
const (
	DomainConstruction   = "CONSTRUCTION_AND_REPAIR"
	DomainRental         = "RENTAL_OF_REAL_ESTATE"
	DomainPurchase       = "PURCHASE_OF_REAL_ESTATE"
	DomainServices       = "SERVICES"
	DomainMarketplace    = "MARKETPLACE"
	DomainSocialCapital  = "SOCIAL_CAPITAL"
	DomainOperational    = "OPERATIONAL_MANAGEMENT"
	DomainReputation     = "REPUTATION"
	DomainTransport      = "TRANSPORT"
	DomainUtilities      = "UTILITIES"
	DomainNeighbors      = "NEIGHBOR_RELATIONS"
	DomainNone           = "NONE"
)

// intentOrder задаёт коды интентов: код = индекс + 1.
var intentOrder = []string{
	IntentRequest,
	IntentOffer,
	IntentRecommendation,
	IntentComplaint,
	IntentInfo,
	IntentOther,
}

// domainOrder задаёт коды доменов: код = индекс + 1.
var domainOrder = []string{
	DomainConstruction,
	DomainRental,
	DomainPurchase,
	DomainServices,
	DomainMarketplace,
	DomainSocialCapital,
	DomainOperational,
	DomainReputation,
	DomainTransport,
	DomainUtilities,
	DomainNeighbors,
	DomainNone,
}

// subcatOrder перечисляет подкатегории каждого домена; код подкатегории —
// индекс в своём списке + 1. NONE отсутствует в карте.
var subcatOrder = map[string][]string{
	DomainConstruction: {
		"MAJOR_RENOVATION",
		"REPAIR_SERVICES",
		"SMALL_TOOLS_AND_MATERIALS",
	},
	DomainRental: {
		"RENTAL_APARTMENT",
		"RENTAL_HOUSE",
		"RENTAL_PARKING",
		"RENTAL_STORAGE",
		"RENTAL_LAND",
	},
	DomainPurchase: {
		"PURCHASE_APARTMENT",
		"PURCHASE_HOUSE",
		"PURCHASE_PARKING",
		"PURCHASE_STORAGE",
		"PURCHASE_LAND",
	},
	DomainServices: {
		"BEAUTY_AND_HEALTH",
		"HOUSEHOLD_SERVICES",
		"CHILD_CARE_AND_EDUCATION",
		"AUTO_SERVICES",
		"DELIVERY_SERVICES",
		"TECH_REPAIR",
	},
	DomainMarketplace: {
		"BUY_SELL_GOODS",
		"GIVE_AWAY",
		"HOMEMADE_FOOD",
		"BUYER_SERVICES",
	},
	DomainSocialCapital: {
		"PARENTING",
		"HOBBY_AND_SPORT",
		"EVENTS",
	},
	DomainOperational: {
		"LOST_AND_FOUND",
		"SECURITY",
		"LIVING_ENVIRONMENT",
		"MANAGEMENT_COMPANY_INTERACTION",
	},
	DomainReputation: {
		"PERSONAL_BRAND",
		"COMPANIES_REPUTATION",
	},
	DomainTransport: {
		"CARPOOL",
		"PARKING_EXCHANGE",
		"PUBLIC_TRANSPORT",
	},
	DomainUtilities: {
		"ELECTRICITY",
		"WATER_SUPPLY",
		"HEATING",
		"INTERNET_AND_TV",
	},
	DomainNeighbors: {
		"NOISE",
		"SHARED_SPACES",
		"PETS",
	},
}

// Intents возвращает интенты в порядке кодов.
func Intents() []string {
	out := make([]string, len(intentOrder))
	copy(out, intentOrder)
	return out
}

// Domains возвращает домены в порядке кодов.
func Domains() []string {
	out := make([]string, len(domainOrder))
	copy(out, domainOrder)
	return out
}

// Subcategories возвращает подкатегории домена в порядке кодов.
// Для NONE и неизвестных доменов возвращает nil.
func Subcategories(domain string) []string {
	subs, ok := subcatOrder[domain]
	if !ok {
		return nil
	}
	out := make([]string, len(subs))
	copy(out, subs)
	return out
}

// IntentByCode возвращает интент по 1-based коду.
func IntentByCode(code int) (string, bool) {
	if code < 1 || code > len(intentOrder) {
		return "", false
	}
	return intentOrder[code-1], true
}

// DomainByCode возвращает домен по 1-based коду.
func DomainByCode(code int) (string, bool) {
	if code < 1 || code > len(domainOrder) {
		return "", false
	}
	return domainOrder[code-1], true
}

// SubcategoryByCode возвращает подкатегорию домена по 1-based коду.
func SubcategoryByCode(domain string, code int) (string, bool) {
	subs, ok := subcatOrder[domain]
	if !ok || code < 1 || code > len(subs) {
		return "", false
	}
	return subs[code-1], true
}

// IntentCode возвращает 1-based код интента, 0 — если интент неизвестен.
func IntentCode(intent string) int {
	for i, v := range intentOrder {
		if v == intent {
			return i + 1
		}
	}
	return 0
}

// DomainCode возвращает 1-based код домена, 0 — если домен неизвестен.
func DomainCode(domain string) int {
	for i, v := range domainOrder {
		if v == domain {
			return i + 1
		}
	}
	return 0
}

// SubcategoryCode возвращает 1-based код подкатегории внутри домена,
// 0 — если пара не входит в таксономию.
func SubcategoryCode(domain, subcat string) int {
	for i, v := range subcatOrder[domain] {
		if v == subcat {
			return i + 1
		}
	}
	return 0
}
