package provider

import (
	"fmt"
	"os"
	"strings"
)

// DefaultPersona is the system instruction sent with every user message.
const DefaultPersona = `You are a knowledgeable cybersecurity assistant.
Provide clear, accurate information about cybersecurity concepts,
best practices, and threat mitigation strategies. Always promote
ethical security practices and avoid providing information about
harmful exploits or attacks. When discussing security measures,
emphasize the importance of:
1. Data protection and privacy
2. Secure coding practices
3. Network security
4. Authentication and authorization
5. Security awareness and training`

// LoadPersona returns the contents of path, or DefaultPersona when path is
// empty. A file holding only whitespace is rejected.
func LoadPersona(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPersona, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read persona file: %w", err)
	}

	persona := strings.TrimSpace(string(data))
	if persona == "" {
		return "", fmt.Errorf("persona file %s is empty", path)
	}
	return persona, nil
}
