package llm

import (
	"context"
	"strings"
)

const mockModel = "healthcare-ai-v1"

type mockGenerator struct{}

// NewMockGenerator answers from keyword rules instead of a model.
func NewMockGenerator() Generator { return &mockGenerator{} }

type keywordRule struct {
	kind       string
	confidence float64
	keywords   []string
	reply      func(query string) string
}

// Rules are checked in order; emergencies win over everything else.
var keywordRules = []keywordRule{
	{
		kind:       "emergency",
		confidence: 0.9,
		keywords:   []string{"emergency", "chest pain", "difficulty breathing", "severe"},
		reply: func(string) string {
			return "This sounds like it could be a medical emergency. Please call emergency services (911) immediately and seek immediate medical attention."
		},
	},
	{
		kind:       "symptoms",
		confidence: 0.7,
		keywords:   []string{"headache", "fever", "cough", "pain"},
		reply: func(q string) string {
			return "I understand you're asking about " + symptomTopic(q) + ". While I can provide general information, it's important to consult with a healthcare provider for proper diagnosis and treatment. Would you like me to provide some general information about when to seek medical attention?"
		},
	},
	{
		kind:       "medication",
		confidence: 0.8,
		keywords:   []string{"medication", "medicine", "drug", "pill"},
		reply: func(string) string {
			return "I can provide general information about medications, but for specific medical advice about your medications, please consult with your doctor or pharmacist. They can provide personalized guidance based on your medical history and current health status."
		},
	},
	{
		kind:       "general_health",
		confidence: 0.6,
		keywords:   []string{"health", "wellness", "exercise", "diet"},
		reply: func(string) string {
			return "I'm happy to provide general health and wellness information! Maintaining a healthy lifestyle with regular exercise, balanced nutrition, and adequate sleep is important for overall well-being. What specific aspect of health would you like to know more about?"
		},
	},
}

const generalReply = "I'm here to help with your healthcare questions. However, I cannot provide medical diagnosis or treatment. For specific medical concerns, please consult with a qualified healthcare professional. How can I assist you today?"

func symptomTopic(q string) string {
	switch {
	case strings.Contains(q, "headache"):
		return "headaches"
	case strings.Contains(q, "fever"):
		return "fever"
	case strings.Contains(q, "cough"):
		return "coughing"
	default:
		return "pain"
	}
}

// Classify returns the reply, its category and confidence for a query.
func Classify(query string) (reply, kind string, confidence float64) {
	q := strings.ToLower(query)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				return rule.reply(q), rule.kind, rule.confidence
			}
		}
	}
	return generalReply, "general", 0.5
}

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply, kind, confidence := Classify(req.Message)
	return consumer(Chunk{
		Content:    reply,
		Type:       kind,
		Model:      mockModel,
		Confidence: confidence,
	})
}
