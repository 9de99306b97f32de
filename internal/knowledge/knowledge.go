package knowledge

import (
	"strings"
	"time"
)

// Base is a read-only lookup over the clinic's static knowledge. It is built
// once at startup and injected into the conversation components; nothing
// mutates it afterwards.
type Base struct {
	specialties  map[string]Specialty
	specialtyIdx map[string]string // normalized name/alias -> specialty id
	faqs         []FAQ
	protocols    []EmergencyProtocol
	policies     map[string]Policy
}

// Specialty is a bookable medical specialty with its consultation schedule.
type Specialty struct {
	ID              string
	Name            string
	Aliases         []string
	Description     string
	DurationMinutes int
	WorkingHours    []WorkingHours
}

// WorkingHours is a recurring weekly consultation window.
type WorkingHours struct {
	Weekday time.Weekday
	Start   string // "08:00"
	End     string // "17:00"
}

// FAQ is a canned answer matched by keyword scoring.
type FAQ struct {
	ID       string
	Question string
	Answer   string
	Keywords []string
}

// UrgencyLevel classifies how fast an emergency protocol must be acted on.
type UrgencyLevel string

const (
	UrgencyImmediate UrgencyLevel = "immediate"
	UrgencyUrgent    UrgencyLevel = "urgent"
)

// EmergencyProtocol maps reported symptoms to triage guidance.
type EmergencyProtocol struct {
	ID       string
	Name     string
	Symptoms []string
	Urgency  UrgencyLevel
	Response string
	Actions  []string
}

// Policy is a clinic policy text keyed by topic (e.g. "cancelamento").
type Policy struct {
	Topic string
	Text  string
}

// Config is the raw knowledge data a Base is built from.
type Config struct {
	Specialties []Specialty
	FAQs        []FAQ
	Protocols   []EmergencyProtocol
	Policies    []Policy
}

// New builds an immutable Base from cfg.
func New(cfg Config) *Base {
	b := &Base{
		specialties:  make(map[string]Specialty, len(cfg.Specialties)),
		specialtyIdx: make(map[string]string),
		faqs:         cfg.FAQs,
		protocols:    cfg.Protocols,
		policies:     make(map[string]Policy, len(cfg.Policies)),
	}
	for _, sp := range cfg.Specialties {
		b.specialties[sp.ID] = sp
		b.specialtyIdx[normalize(sp.Name)] = sp.ID
		for _, alias := range sp.Aliases {
			b.specialtyIdx[normalize(alias)] = sp.ID
		}
	}
	for _, p := range cfg.Policies {
		b.policies[normalize(p.Topic)] = p
	}
	return b
}

// Specialty returns a specialty by id.
func (b *Base) Specialty(id string) (Specialty, bool) {
	sp, ok := b.specialties[id]
	return sp, ok
}

// SpecialtyByName resolves a specialty from user text, ignoring case and
// accents, and tolerating the name appearing inside a longer sentence.
func (b *Base) SpecialtyByName(name string) (Specialty, bool) {
	norm := normalize(name)
	if id, ok := b.specialtyIdx[norm]; ok {
		return b.specialties[id], true
	}
	for key, id := range b.specialtyIdx {
		if strings.Contains(norm, key) {
			return b.specialties[id], true
		}
	}
	return Specialty{}, false
}

// SpecialtyNames lists the display names of every specialty, in stable order.
func (b *Base) SpecialtyNames() []string {
	names := make([]string, 0, len(b.specialties))
	for _, sp := range defaultOrder(b.specialties) {
		names = append(names, sp.Name)
	}
	return names
}

// MatchEmergency checks reported symptoms against the emergency protocols.
// Matching is case/accent-insensitive substring in either direction: the
// protocol symptom may contain the user's wording or vice versa.
func (b *Base) MatchEmergency(reported string) (EmergencyProtocol, bool) {
	norm := normalize(reported)
	if norm == "" {
		return EmergencyProtocol{}, false
	}
	for _, proto := range b.protocols {
		for _, symptom := range proto.Symptoms {
			s := normalize(symptom)
			if strings.Contains(norm, s) || strings.Contains(s, norm) {
				return proto, true
			}
		}
	}
	return EmergencyProtocol{}, false
}

// Policy returns the policy text for a topic.
func (b *Base) Policy(topic string) (Policy, bool) {
	p, ok := b.policies[normalize(topic)]
	return p, ok
}

// AnswerFAQ returns the best-scoring FAQ answer for the question, or false
// when no keyword matches at all.
func (b *Base) AnswerFAQ(question string) (FAQ, bool) {
	norm := normalize(question)
	best := -1
	bestScore := 0
	for i, faq := range b.faqs {
		score := 0
		for _, kw := range faq.Keywords {
			if strings.Contains(norm, normalize(kw)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return FAQ{}, false
	}
	return b.faqs[best], true
}

// Documents flattens the knowledge base into plain-text snippets for seeding
// the semantic store.
func (b *Base) Documents() []string {
	docs := make([]string, 0, len(b.specialties)+len(b.faqs)+len(b.policies))
	for _, sp := range defaultOrder(b.specialties) {
		docs = append(docs, "Especialidade: "+sp.Name+". "+sp.Description)
	}
	for _, faq := range b.faqs {
		docs = append(docs, faq.Question+" "+faq.Answer)
	}
	for _, p := range b.policies {
		docs = append(docs, "Política de "+p.Topic+": "+p.Text)
	}
	return docs
}

func defaultOrder(m map[string]Specialty) []Specialty {
	out := make([]Specialty, 0, len(m))
	for _, id := range orderedSpecialtyIDs {
		if sp, ok := m[id]; ok {
			out = append(out, sp)
		}
	}
	// Anything configured outside the default set goes at the end.
	for id, sp := range m {
		if !containsID(orderedSpecialtyIDs, id) {
			out = append(out, sp)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "õ", "o", "ô", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

func normalize(s string) string {
	return accentReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}
