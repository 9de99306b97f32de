package knowledge

import "time"

var orderedSpecialtyIDs = []string{
	"clinica-geral",
	"cardiologia",
	"dermatologia",
	"ginecologia",
	"ortopedia",
	"pediatria",
}

// Default returns the clinic's built-in knowledge configuration. It is plain
// data; callers pass it through New to get the lookup structure.
func Default() Config {
	weekdays := func(start, end string) []WorkingHours {
		hours := make([]WorkingHours, 0, 5)
		for d := time.Monday; d <= time.Friday; d++ {
			hours = append(hours, WorkingHours{Weekday: d, Start: start, End: end})
		}
		return hours
	}

	return Config{
		Specialties: []Specialty{
			{
				ID:              "clinica-geral",
				Name:            "Clínica Geral",
				Aliases:         []string{"clinico geral", "consulta geral"},
				Description:     "Atendimento geral, avaliação inicial e encaminhamentos.",
				DurationMinutes: 30,
				WorkingHours:    weekdays("08:00", "18:00"),
			},
			{
				ID:              "cardiologia",
				Name:            "Cardiologia",
				Aliases:         []string{"cardiologista", "coração"},
				Description:     "Avaliação cardiovascular, eletrocardiograma e acompanhamento.",
				DurationMinutes: 30,
				WorkingHours:    weekdays("08:00", "17:00"),
			},
			{
				ID:              "dermatologia",
				Name:            "Dermatologia",
				Aliases:         []string{"dermatologista", "pele"},
				Description:     "Tratamento de doenças de pele, cabelo e unhas.",
				DurationMinutes: 30,
				WorkingHours:    weekdays("09:00", "17:00"),
			},
			{
				ID:              "ginecologia",
				Name:            "Ginecologia",
				Aliases:         []string{"ginecologista"},
				Description:     "Saúde da mulher, exames preventivos e pré-natal.",
				DurationMinutes: 30,
				WorkingHours:    weekdays("08:00", "16:00"),
			},
			{
				ID:              "ortopedia",
				Name:            "Ortopedia",
				Aliases:         []string{"ortopedista", "ossos"},
				Description:     "Lesões ósseas, musculares e articulares.",
				DurationMinutes: 30,
				WorkingHours:    weekdays("10:00", "18:00"),
			},
			{
				ID:              "pediatria",
				Name:            "Pediatria",
				Aliases:         []string{"pediatra", "criança"},
				Description:     "Atendimento de bebês, crianças e adolescentes.",
				DurationMinutes: 30,
				WorkingHours:    weekdays("08:00", "17:00"),
			},
		},
		FAQs: []FAQ{
			{
				ID:       "faq-convenio",
				Question: "Quais convênios são aceitos?",
				Answer:   "Aceitamos os principais convênios. Traga a carteirinha do plano e um documento com foto na consulta.",
				Keywords: []string{"convênio", "convenio", "plano", "plano de saúde"},
			},
			{
				ID:       "faq-horario",
				Question: "Qual o horário de funcionamento?",
				Answer:   "A clínica funciona de segunda a sexta, das 8h às 18h.",
				Keywords: []string{"horário", "horario", "funcionamento", "aberto", "fecha"},
			},
			{
				ID:       "faq-documentos",
				Question: "O que devo levar na consulta?",
				Answer:   "Documento com foto, carteirinha do convênio e exames anteriores, se houver.",
				Keywords: []string{"documento", "levar", "carteirinha", "exames"},
			},
			{
				ID:       "faq-retorno",
				Question: "Como funciona a consulta de retorno?",
				Answer:   "O retorno é gratuito em até 30 dias após a consulta, mediante agendamento.",
				Keywords: []string{"retorno", "reavaliação"},
			},
		},
		Protocols: []EmergencyProtocol{
			{
				ID:       "proto-cardiaco",
				Name:     "Emergência cardíaca",
				Symptoms: []string{"dor no peito", "falta de ar", "dor no braço esquerdo", "palpitação forte"},
				Urgency:  UrgencyImmediate,
				Response: "Seus sintomas podem indicar uma emergência cardíaca. Não espere: procure atendimento imediato.",
				Actions: []string{
					"Ligue para o SAMU: 192",
					"Sente-se e evite esforço físico",
					"Se houver prescrição, tome o medicamento indicado pelo seu cardiologista",
					"Vá ao pronto-socorro mais próximo",
				},
			},
			{
				ID:       "proto-avc",
				Name:     "Suspeita de AVC",
				Symptoms: []string{"rosto torto", "fala enrolada", "perda de força", "formigamento no corpo", "confusão mental"},
				Urgency:  UrgencyImmediate,
				Response: "Seus sintomas podem indicar um AVC. Cada minuto conta.",
				Actions: []string{
					"Ligue para o SAMU: 192",
					"Anote o horário em que os sintomas começaram",
					"Não ofereça comida ou bebida",
				},
			},
			{
				ID:       "proto-sangramento",
				Name:     "Sangramento intenso",
				Symptoms: []string{"sangramento intenso", "hemorragia", "corte profundo"},
				Urgency:  UrgencyImmediate,
				Response: "Sangramento intenso exige atendimento imediato.",
				Actions: []string{
					"Pressione o local com um pano limpo",
					"Ligue para o SAMU: 192",
					"Mantenha a pessoa deitada e aquecida",
				},
			},
			{
				ID:       "proto-alergia",
				Name:     "Reação alérgica grave",
				Symptoms: []string{"inchaço no rosto", "garganta fechando", "urticária", "dificuldade para engolir"},
				Urgency:  UrgencyImmediate,
				Response: "Reações alérgicas graves podem evoluir rapidamente.",
				Actions: []string{
					"Ligue para o SAMU: 192",
					"Se houver caneta de adrenalina prescrita, use-a",
					"Afaste a pessoa do agente causador, se conhecido",
				},
			},
			{
				ID:       "proto-febre-alta",
				Name:     "Febre alta persistente",
				Symptoms: []string{"febre alta", "febre que não baixa", "convulsão"},
				Urgency:  UrgencyUrgent,
				Response: "Febre alta persistente merece avaliação rápida, principalmente em crianças.",
				Actions: []string{
					"Procure o pronto atendimento",
					"Mantenha hidratação",
					"Em caso de convulsão, ligue para o SAMU: 192",
				},
			},
		},
		Policies: []Policy{
			{
				Topic: "cancelamento",
				Text:  "Cancelamentos devem ser feitos com pelo menos 24 horas de antecedência. Cancelamentos tardios ou faltas podem gerar cobrança de taxa.",
			},
			{
				Topic: "reagendamento",
				Text:  "Reagendamentos são gratuitos quando solicitados com 24 horas de antecedência, sujeitos à disponibilidade de agenda.",
			},
			{
				Topic: "atraso",
				Text:  "Tolerância de 15 minutos de atraso. Após esse período a consulta pode precisar ser reagendada.",
			},
			{
				Topic: "convenio",
				Text:  "Consultas por convênio exigem carteirinha válida e documento com foto. Verifique a cobertura da especialidade com seu plano.",
			},
		},
	}
}
