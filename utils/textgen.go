package utils

import (
	"fmt"
	"math/rand"
	"strings"
)

// GeneratedEmail is the structured output of the text generator.
type GeneratedEmail struct {
	Subject string
	Body    string
}

// TextGenerator produces the bodies the orchestrator sends. It is stateless
// from the orchestrator's perspective; failures are fatal for the current
// send step.
type TextGenerator interface {
	// Outbound produces a short introductory message from the domain
	// account to a lead, varied on each call.
	Outbound(senderName, recipientName, senderAddress string) (GeneratedEmail, error)

	// Reply produces a short reply from a lead back to the domain account,
	// with a "Re: " subject.
	Reply(replierName, originalSenderName, originalSubject, originalBody string) (GeneratedEmail, error)
}

// TemplateGenerator is the built-in generator: rotating subject and body
// pools with the participant names spliced in.
type TemplateGenerator struct {
	subjects    []string
	bodies      []string
	replyBodies []string
}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{
		subjects: []string{
			"Quick question about your recent post",
			"Following up on our last conversation",
			"Checking in to see how you're doing",
			"Thought you might find this interesting",
			"Let's reconnect soon",
			"An idea I wanted to share with you",
			"Regarding your recent project",
		},
		bodies: []string{
			"Hi %s,\n\nI wanted to follow up on our previous conversation. Let me know if you have any questions!\n\nBest regards,\n%s",
			"Hello %s,\n\nI came across this and thought you might find it valuable. What do you think?\n\nRegards,\n%s",
			"Hi %s,\n\nJust checking in to see if you had any thoughts on this topic?\n\nThanks,\n%s",
			"Greetings %s,\n\nI wanted to share this with you. Let me know your thoughts when you get a chance.\n\nBest,\n%s",
			"Hello %s,\n\nHope this message finds you well. I wanted to touch base about a few things on my list.\n\nWarm regards,\n%s",
		},
		replyBodies: []string{
			"Hi %s,\n\nThanks for reaching out! This sounds interesting, happy to take a closer look.\n\nBest,\n%s",
			"Hello %s,\n\nGood to hear from you. Let me get back to you with more details later this week.\n\nRegards,\n%s",
			"Hi %s,\n\nAppreciate the note. I had been meaning to follow up on this as well.\n\nThanks,\n%s",
			"Hey %s,\n\nThanks for the message, sounds good to me. Talk soon.\n\nBest,\n%s",
		},
	}
}

func (tg *TemplateGenerator) Outbound(senderName, recipientName, senderAddress string) (GeneratedEmail, error) {
	if senderName == "" || recipientName == "" {
		return GeneratedEmail{}, fmt.Errorf("text generator: sender and recipient names are required")
	}

	subject := tg.subjects[rand.Intn(len(tg.subjects))]
	body := fmt.Sprintf(tg.bodies[rand.Intn(len(tg.bodies))], recipientName, senderName)

	return GeneratedEmail{Subject: subject, Body: body}, nil
}

func (tg *TemplateGenerator) Reply(replierName, originalSenderName, originalSubject, originalBody string) (GeneratedEmail, error) {
	if replierName == "" || originalSenderName == "" {
		return GeneratedEmail{}, fmt.Errorf("text generator: replier and original sender names are required")
	}

	subject := originalSubject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	body := fmt.Sprintf(tg.replyBodies[rand.Intn(len(tg.replyBodies))], originalSenderName, replierName)

	return GeneratedEmail{Subject: subject, Body: body}, nil
}
