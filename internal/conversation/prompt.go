package conversation

import (
	"fmt"
	"strings"
)

const basePersona = `Você é a assistente virtual de uma clínica médica brasileira.
Seja cordial, objetiva e use português do Brasil.
Nunca dê diagnósticos nem recomende medicamentos.
Em caso de emergência, oriente o paciente a ligar para o SAMU: 192.
Responda em no máximo três frases.`

// intentGuidance appends intent-specific instructions to the persona.
var intentGuidance = map[Intent]string{
	IntentGeneralInfo: "O paciente quer uma informação sobre a clínica. Responda usando apenas o contexto fornecido; se a informação não estiver no contexto, diga que vai verificar e ofereça o telefone da recepção.",
	IntentUnknown:     "Não ficou claro o que o paciente precisa. Responda de forma acolhedora e pergunte se ele deseja agendar, remarcar ou cancelar uma consulta, ou tirar uma dúvida sobre a clínica.",
}

// buildSystemPrompt assembles the generation prompt: persona, intent
// guidance, retrieved knowledge snippets and the conversation digest.
func buildSystemPrompt(cc *ConversationContext, analysis Analysis, snippets []string, summary string) string {
	var b strings.Builder
	b.WriteString(basePersona)

	if guidance, ok := intentGuidance[analysis.Intent]; ok {
		b.WriteString("\n\n")
		b.WriteString(guidance)
	}

	if len(snippets) > 0 {
		b.WriteString("\n\nInformações da clínica:\n")
		for _, snippet := range snippets {
			b.WriteString("- ")
			b.WriteString(snippet)
			b.WriteString("\n")
		}
	}

	if summary != "" {
		b.WriteString("\nResumo da conversa:\n")
		b.WriteString(summary)
	}

	if analysis.Intent != IntentUnknown {
		fmt.Fprintf(&b, "\nIntenção detectada: %s (confiança %.2f)", analysis.Intent, analysis.Confidence)
	}
	return b.String()
}
