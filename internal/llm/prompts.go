package llm

const (
	healthcarePrompt = "You are a healthcare AI assistant. Please provide helpful information about the following health question, while being clear that you're not a doctor and not providing medical advice: %s"
	systemPrompt     = "You are a knowledgeable healthcare AI assistant. Provide helpful, accurate information and always remind users to consult healthcare professionals for medical advice."
	fallbackReply    = "I apologize, but I'm currently unable to process your request about \"%s\". As a healthcare AI assistant, I recommend consulting with a qualified healthcare professional for medical advice."
)

// Prompts are the canned replies served alongside generated answers.
var Prompts = map[string]string{
	"greeting":   "Hello! I'm your healthcare AI assistant. How can I help you today?",
	"symptoms":   "I can help you understand common symptoms, but please remember I'm not a substitute for professional medical advice. What symptoms are you experiencing?",
	"medication": "I can provide general information about medications, but always consult with your healthcare provider for specific medical advice.",
	"emergency":  "If you're experiencing a medical emergency, please call emergency services immediately (911 in the US).",
	"disclaimer": "I am an AI assistant and cannot provide medical diagnosis or treatment. Always consult with qualified healthcare professionals for medical advice.",
}

var promptCategories = []string{"greeting", "symptoms", "medication", "emergency", "disclaimer"}

var capabilities = []string{
	"General health information",
	"Symptom guidance",
	"Medication information",
	"Emergency recognition",
	"Wellness advice",
}

var limitations = []string{
	"Cannot provide medical diagnosis",
	"Cannot prescribe medications",
	"Not a substitute for professional medical advice",
	"For emergencies, call 911",
}
