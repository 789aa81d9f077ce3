package conversation

import "fmt"

const (
	toolNotFoundMessage = "I couldn't find the right tool for that, so let's keep going. What else can I help you with?"
	// ApologyMessage is spoken when the model call fails.
	ApologyMessage = "Sorry, I'm having trouble answering right now. Could you say that again?"
)

func toolSuccessMessage(name string) string {
	return fmt.Sprintf("All done, I've completed %s for you. Is there anything else I can help with?", name)
}

func toolRetryMessage(name string) string {
	return fmt.Sprintf("Sorry, I couldn't complete %s just now. Shall we try that again?", name)
}
