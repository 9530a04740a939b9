package config

import (
	"fmt"
	"slices"
)

// Validate checks configuration values.
// Returns sentinel errors checkable with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set the GEMINI_API_KEY environment variable", ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidModelName)
	}

	// Temperature range per the Gemini API: 0.0 to 2.0.
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 65536 {
		return fmt.Errorf("%w: must be between 1 and 65,536, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > 50 {
		return fmt.Errorf("%w: retrieval_top_k must be between 1 and 50, got %d", ErrInvalidRetrieval, c.RetrievalTopK)
	}
	if c.RetrievalFetchK < c.RetrievalTopK {
		return fmt.Errorf("%w: retrieval_fetch_k (%d) must be at least retrieval_top_k (%d)",
			ErrInvalidRetrieval, c.RetrievalFetchK, c.RetrievalTopK)
	}
	if c.RetrievalLambda < 0 || c.RetrievalLambda > 1 {
		return fmt.Errorf("%w: retrieval_lambda must be between 0 and 1, got %.2f", ErrInvalidRetrieval, c.RetrievalLambda)
	}

	if c.MaxHistoryTurns < 1 {
		return fmt.Errorf("%w: max_history_turns must be positive, got %d", ErrInvalidHistory, c.MaxHistoryTurns)
	}
	if c.HistoryWindowChars < 1 {
		return fmt.Errorf("%w: history_window_chars must be positive, got %d", ErrInvalidHistory, c.HistoryWindowChars)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("%w: user cannot be empty", ErrInvalidPostgres)
	}

	// Modern SSL modes only; allow/prefer are deprecated.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: ssl mode %q is not valid, must be one of %v",
			ErrInvalidPostgres, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
