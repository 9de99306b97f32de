package knowledge

import (
	"strings"
	"testing"
)

func newTestBase(t *testing.T) *Base {
	t.Helper()
	return New(Default())
}

func TestSpecialtyByName(t *testing.T) {
	kb := newTestBase(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"exact", "Cardiologia", "cardiologia"},
		{"lowercase no accent", "clinica geral", "clinica-geral"},
		{"alias", "cardiologista", "cardiologia"},
		{"inside sentence", "preciso de uma consulta com dermatologista", "dermatologia"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp, ok := kb.SpecialtyByName(tt.input)
			if !ok {
				t.Fatalf("expected match for %q", tt.input)
			}
			if sp.ID != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, sp.ID)
			}
		})
	}

	if _, ok := kb.SpecialtyByName("neurocirurgia"); ok {
		t.Fatal("expected no match for unknown specialty")
	}
}

func TestMatchEmergencyBidirectional(t *testing.T) {
	kb := newTestBase(t)

	// User text contains the protocol symptom.
	proto, ok := kb.MatchEmergency("estou com dor no peito muito forte")
	if !ok {
		t.Fatal("expected protocol match")
	}
	if proto.Urgency != UrgencyImmediate {
		t.Fatalf("expected immediate urgency, got %s", proto.Urgency)
	}

	// Protocol symptom contains the user text.
	if _, ok := kb.MatchEmergency("sangramento"); !ok {
		t.Fatal("expected reverse containment match")
	}

	if _, ok := kb.MatchEmergency("unha encravada"); ok {
		t.Fatal("expected no protocol for minor complaint")
	}
	if _, ok := kb.MatchEmergency("  "); ok {
		t.Fatal("expected no protocol for blank input")
	}
}

func TestChestPainProtocolIncludesSAMU(t *testing.T) {
	kb := newTestBase(t)
	proto, ok := kb.MatchEmergency("dor no peito e falta de ar")
	if !ok {
		t.Fatal("expected protocol match")
	}
	if proto.Urgency != UrgencyImmediate {
		t.Fatalf("expected immediate, got %s", proto.Urgency)
	}
	joined := strings.Join(proto.Actions, " ")
	if !strings.Contains(joined, "SAMU") || !strings.Contains(joined, "192") {
		t.Fatalf("expected SAMU/192 in actions, got %q", joined)
	}
}

func TestPolicyLookup(t *testing.T) {
	kb := newTestBase(t)
	p, ok := kb.Policy("cancelamento")
	if !ok {
		t.Fatal("expected cancellation policy")
	}
	if !strings.Contains(p.Text, "24 horas") {
		t.Fatalf("expected 24h notice in policy, got %q", p.Text)
	}
	if _, ok := kb.Policy("estacionamento"); ok {
		t.Fatal("expected no policy for unknown topic")
	}
}

func TestAnswerFAQ(t *testing.T) {
	kb := newTestBase(t)
	faq, ok := kb.AnswerFAQ("vocês aceitam meu convênio?")
	if !ok {
		t.Fatal("expected FAQ match")
	}
	if faq.ID != "faq-convenio" {
		t.Fatalf("expected convenio FAQ, got %s", faq.ID)
	}
	if _, ok := kb.AnswerFAQ("qual a previsão do tempo?"); ok {
		t.Fatal("expected no FAQ for unrelated question")
	}
}

func TestSpecialtyNamesStableOrder(t *testing.T) {
	kb := newTestBase(t)
	first := kb.SpecialtyNames()
	second := kb.SpecialtyNames()
	if len(first) == 0 {
		t.Fatal("expected specialties")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected stable order, diverged at %d: %s vs %s", i, first[i], second[i])
		}
	}
	if first[0] != "Clínica Geral" {
		t.Fatalf("expected Clínica Geral first, got %s", first[0])
	}
}

func TestDocumentsCoverAllSections(t *testing.T) {
	kb := newTestBase(t)
	docs := kb.Documents()
	joined := strings.Join(docs, "\n")
	for _, want := range []string{"Cardiologia", "convênios", "cancelamento"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected documents to mention %q", want)
		}
	}
}
