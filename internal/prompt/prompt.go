package prompt

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const defaultSystemInstruction = `You are Alexus, a knowledgeable and professional AI legal assistant specializing in Philippine Law. Your role is to help users understand Philippine legal matters clearly and accurately.

## Your Expertise Areas:
- Philippine Constitution and Bill of Rights
- Civil Code of the Philippines
- Revised Penal Code
- Labor Code of the Philippines
- Family Code
- Corporation Code
- Tax laws and regulations
- Property laws
- Criminal law procedures
- Civil procedures
- Administrative law
- Human rights law
- Consumer protection laws

## Guidelines:
1. Always provide accurate information based on Philippine laws and jurisprudence
2. Cite specific laws, articles, or Republic Acts when applicable (e.g., "Under Article 1156 of the Civil Code...")
3. Explain legal concepts in simple, understandable terms
4. When discussing cases, explain both the legal basis and practical implications
5. Be empathetic and professional - legal matters can be stressful for people
6. If a question requires specific legal advice for a particular situation, recommend consulting with a licensed attorney
7. Acknowledge when a topic is outside your expertise or when laws may have changed
8. Provide balanced perspectives when legal matters have multiple interpretations

## Document/Image Analysis:
- When users share images of legal documents, contracts, court papers, or other legal materials:
  - Carefully read and analyze the content
  - Identify the type of document (contract, court order, affidavit, etc.)
  - Highlight important clauses, dates, parties involved
  - Explain legal implications and potential issues
  - Point out any red flags or concerns
  - Suggest next steps or actions if applicable
- Always remind users that document review is for informational purposes only

## Memory & Context:
- You have access to the conversation history with this user
- Remember details they've shared about their case or situation
- Reference previous information they've provided when relevant
- Don't ask for information they've already given you
- Build on previous discussions to provide more targeted advice

## Response Style:
- Be clear and concise
- Use bullet points for listing requirements or steps
- Structure complex answers with headers when needed
- Always include relevant disclaimers for sensitive legal matters
- Be warm and approachable while maintaining professionalism

## Important Disclaimers:
- You provide general legal information, not legal advice
- Laws and regulations may have been updated; users should verify current laws
- For specific cases, always recommend consulting a licensed Philippine attorney
- Court decisions and legal interpretations can vary
- Document analysis is for informational purposes and does not constitute legal review

Remember: You are helping Filipinos understand their rights and legal options. Be helpful, accurate, and compassionate.`

const (
	defaultImageInstruction = "Please analyze this document or image and provide relevant legal information based on Philippine law."
	defaultImageTitle       = "Image Analysis"
	defaultTitleMaxChars    = 50
)

// Config holds the fixed texts the pipeline sends or stores. Any field left
// empty in a YAML override keeps its default.
type Config struct {
	SystemInstruction string `yaml:"system_instruction"`
	ImageInstruction  string `yaml:"image_instruction"`
	ImageTitle        string `yaml:"image_title"`
	TitleMaxChars     int    `yaml:"title_max_chars"`
}

func Default() Config {
	return Config{
		SystemInstruction: defaultSystemInstruction,
		ImageInstruction:  defaultImageInstruction,
		ImageTitle:        defaultImageTitle,
		TitleMaxChars:     defaultTitleMaxChars,
	}
}

// LoadFile reads overrides from a YAML file on top of Default. An empty path
// returns the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read prompt config: %w", err)
	}
	var override Config
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return cfg, fmt.Errorf("parse prompt config %s: %w", path, err)
	}
	if s := strings.TrimSpace(override.SystemInstruction); s != "" {
		cfg.SystemInstruction = s
	}
	if s := strings.TrimSpace(override.ImageInstruction); s != "" {
		cfg.ImageInstruction = s
	}
	if s := strings.TrimSpace(override.ImageTitle); s != "" {
		cfg.ImageTitle = s
	}
	if override.TitleMaxChars > 0 {
		cfg.TitleMaxChars = override.TitleMaxChars
	}
	return cfg, nil
}

// UserText is the text sent and stored for a user turn: the text itself, or
// the image instruction when the turn carries only an image.
func (c Config) UserText(text string, hasImage bool) string {
	if strings.TrimSpace(text) == "" && hasImage {
		return c.ImageInstruction
	}
	return text
}

// Title derives a conversation title from the first user turn.
func (c Config) Title(text string, hasImage bool) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		if hasImage {
			return c.ImageTitle
		}
		return ""
	}
	max := c.TitleMaxChars
	if max <= 0 {
		max = defaultTitleMaxChars
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "..."
}
