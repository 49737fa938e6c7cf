package vocab

import (
	"regexp"
	"strings"

	"github.com/immigration-rag/backend/internal/storage/models"
)

const formPattern = `\b(?:Form\s+)?((?:I|N|G|DS|AR|ETA|EOIR)-\d{1,4}[A-Z]?)\b`

// visaCodes are matched case-sensitively, with the hyphen optional.
var visaCodes = []string{
	"H-1B", "H-2A", "H-2B", "H-3", "H-4",
	"L-1A", "L-1B", "L-1", "L-2",
	"O-1A", "O-1B", "O-1", "O-2",
	"P-1", "P-3", "E-1", "E-2", "E-3",
	"F-1", "F-2", "J-1", "J-2", "M-1",
	"K-1", "K-3", "B-1", "B-2", "R-1",
	"EB-1", "EB-2", "EB-3", "EB-4", "EB-5",
	"IR-1", "CR-1",
}

var namedPermits = []Term{
	{Pattern: `\bgreen\s+cards?\b`, Canonical: "Green Card"},
	{Pattern: `\bpermanent\s+resid(?:ence|ency|ent\s+card)\b`, Canonical: "Permanent Residence"},
	{Pattern: `\b(?:work\s+permit|employment\s+authori[sz]ation(?:\s+document)?)\b`, Canonical: "Employment Authorization"},
	{Pattern: `\bEAD\b`, Canonical: "Employment Authorization", CaseSensitive: true},
	{Pattern: `\bstudent\s+visas?\b`, Canonical: "Student Visa"},
	{Pattern: `\b(?:tourist|visitor)\s+visas?\b`, Canonical: "Visitor Visa"},
	{Pattern: `\bwork\s+visas?\b`, Canonical: "Work Visa"},
	{Pattern: `\b(?:spous(?:e|al)|marriage)\s+visas?\b`, Canonical: "Spouse Visa"},
	{Pattern: `\bfianc[eé]e?\s+visas?\b`, Canonical: "Fiance Visa"},
	{Pattern: `\bnaturali[sz]ation\b`, Canonical: "Naturalization"},
	{Pattern: `\basylum\b`, Canonical: "Asylum"},
	{Pattern: `\brefugee\s+status\b`, Canonical: "Refugee Status"},
	{Pattern: `\badvance\s+parole\b`, Canonical: "Advance Parole"},
	{Pattern: `\bDACA\b`, Canonical: "DACA", CaseSensitive: true},
	{Pattern: `\bTPS\b`, Canonical: "TPS", CaseSensitive: true},
	{Pattern: `\bTN\s+(?:visa|status)\b`, Canonical: "TN"},
	{Pattern: `\bexpress\s+entry\b`, Canonical: "Express Entry"},
	{Pattern: `\b(?:EU\s+)?blue\s+card\b`, Canonical: "EU Blue Card"},
	{Pattern: `\bskilled\s+worker\s+visas?\b`, Canonical: "Skilled Worker Visa"},
	{Pattern: `\bworking\s+holiday\s+visas?\b`, Canonical: "Working Holiday Visa"},
	{Pattern: `\b(subclass\s+\d{3})\b`},
}

var requirementTerms = []Term{
	{Pattern: `\bpassports?\b(?:\s+photos?)?`, Canonical: "passport"},
	{Pattern: `\bbirth\s+certificates?\b`, Canonical: "birth certificate"},
	{Pattern: `\bmarriage\s+certificates?\b`, Canonical: "marriage certificate"},
	{Pattern: `\bpolice\s+(?:clearance|certificate)s?\b|\bcriminal\s+record\s+checks?\b`, Canonical: "police clearance"},
	{Pattern: `\bmedical\s+exam(?:ination)?s?\b`, Canonical: "medical examination"},
	{Pattern: `\bbiometrics?\b`, Canonical: "biometrics"},
	{Pattern: `\bproof\s+of\s+(?:funds|financial\s+support)\b|\bbank\s+statements?\b`, Canonical: "proof of funds"},
	{Pattern: `\baffidavit\s+of\s+support\b`, Canonical: "affidavit of support"},
	{Pattern: `\b(?:photographs|passport-style\s+photos?)\b`, Canonical: "photographs"},
	{Pattern: `\blanguage\s+tests?\b|\bIELTS\b|\bTOEFL\b`, Canonical: "language test"},
	{Pattern: `\bjob\s+offers?\b|\boffer\s+of\s+employment\b`, Canonical: "job offer"},
	{Pattern: `\blabor\s+certification\b|\bPERM\b`, Canonical: "labor certification"},
	{Pattern: `\b(?:academic\s+)?transcripts?\b`, Canonical: "transcripts"},
	{Pattern: `\bdiplomas?\b|\bdegree\s+certificates?\b`, Canonical: "degree certificate"},
	{Pattern: `\bsponsorship\b|\bsponsors?\b`, Canonical: "sponsor"},
	{Pattern: `\binterviews?\b`, Canonical: "interview"},
	{Pattern: `\bbackground\s+checks?\b`, Canonical: "background check"},
	{Pattern: `\bvaccination\s+records?\b`, Canonical: "vaccination records"},
	{Pattern: `\btax\s+returns?\b`, Canonical: "tax returns"},
	{Pattern: `\bproof\s+of\s+(?:address|residence)\b`, Canonical: "proof of residence"},
	{Pattern: `\b(?:letter\s+of\s+acceptance|acceptance\s+letter)\b`, Canonical: "acceptance letter"},
	{Pattern: `\bhealth\s+insurance\b`, Canonical: "health insurance"},
}

const amount = `\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+(?:\.\d{2})?`

var feeTerms = []Term{
	{Pattern: `(\$\s?(?:` + amount + `))`},
	{Pattern: `((?:€|£)\s?(?:` + amount + `))`},
	{Pattern: `\b((?:USD|CAD|AUD|GBP|EUR)\s?(?:` + amount + `))`},
	{Pattern: `\b((?:` + amount + `)\s?(?:USD|CAD|AUD|GBP|EUR))\b`},
	{Pattern: `\bfee\s+waivers?\b`, Canonical: "FEE WAIVER"},
}

// countries maps canonical names to extra aliases.
var countries = map[string][]string{
	"United States":        {"USA", "U.S.", "U.S.A.", "United States of America"},
	"Canada":               nil,
	"Mexico":               nil,
	"United Kingdom":       {"UK", "U.K.", "Great Britain", "Britain"},
	"Ireland":              nil,
	"Australia":            nil,
	"New Zealand":          nil,
	"India":                nil,
	"China":                {"People's Republic of China"},
	"Philippines":          nil,
	"Vietnam":              {"Viet Nam"},
	"Pakistan":             nil,
	"Bangladesh":           nil,
	"Nigeria":              nil,
	"Ghana":                nil,
	"Kenya":                nil,
	"South Africa":         nil,
	"Egypt":                nil,
	"Brazil":               nil,
	"Colombia":             nil,
	"Venezuela":            nil,
	"Cuba":                 nil,
	"Haiti":                nil,
	"Dominican Republic":   nil,
	"El Salvador":          nil,
	"Guatemala":            nil,
	"Honduras":             nil,
	"Germany":              nil,
	"France":               nil,
	"Spain":                nil,
	"Italy":                nil,
	"Portugal":             nil,
	"Netherlands":          nil,
	"Poland":               nil,
	"Ukraine":              nil,
	"Russia":               {"Russian Federation"},
	"Turkey":               {"Türkiye"},
	"Iran":                 nil,
	"Iraq":                 nil,
	"Afghanistan":          nil,
	"Syria":                nil,
	"Israel":               nil,
	"Saudi Arabia":         nil,
	"United Arab Emirates": {"UAE"},
	"Japan":                nil,
	"South Korea":          {"Republic of Korea"},
	"Taiwan":               nil,
	"Singapore":            nil,
	"Malaysia":             nil,
	"Indonesia":            nil,
	"Thailand":             nil,
	"Nepal":                nil,
	"Sri Lanka":            nil,
	"Jamaica":              nil,
	"Argentina":            nil,
	"Chile":                nil,
	"Peru":                 nil,
}

func defaultTables() map[models.EntityKind][]Term {
	permits := make([]Term, 0, len(visaCodes)+len(namedPermits))
	for _, code := range visaCodes {
		pattern := strings.Replace(regexp.QuoteMeta(code), "-", "-?", 1)
		permits = append(permits, Term{
			Pattern:       `\b` + pattern + `\b`,
			Canonical:     code,
			CaseSensitive: true,
		})
	}
	permits = append(permits, namedPermits...)

	countryTerms := make([]Term, 0, len(countries))
	for name, aliases := range countries {
		alts := []string{regexp.QuoteMeta(name)}
		var acronyms []string
		for _, alias := range aliases {
			// Short upper-case aliases such as UK or USA must not match ordinary words.
			if len(alias) <= 6 && strings.ToUpper(alias) == alias {
				acronyms = append(acronyms, regexp.QuoteMeta(alias))
				continue
			}
			alts = append(alts, regexp.QuoteMeta(alias))
		}
		countryTerms = append(countryTerms, countryTerm(name, alts, false))
		if len(acronyms) > 0 {
			countryTerms = append(countryTerms, countryTerm(name, acronyms, true))
		}
	}

	return map[models.EntityKind][]Term{
		models.KindForm:        {{Pattern: formPattern}},
		models.KindPermitType:  permits,
		models.KindRequirement: requirementTerms,
		models.KindFee:         feeTerms,
		models.KindCountry:     countryTerms,
	}
}

func countryTerm(name string, alts []string, caseSensitive bool) Term {
	return Term{
		Pattern:       `(?:^|[^\pL])(` + strings.Join(alts, "|") + `)(?:[^\pL]|$)`,
		Canonical:     name,
		CaseSensitive: caseSensitive,
	}
}
