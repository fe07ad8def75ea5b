package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 20
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 120
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/bunsho/data/db/bunsho.db"
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = "/usr/local/var/bunsho/data/blobs"
	}
	if cfg.Storage.PublicBaseURL == "" {
		cfg.Storage.PublicBaseURL = "http://localhost:8080"
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = BackendHTTP
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 10
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.ConnectAttempts == 0 {
		cfg.Embedding.ConnectAttempts = 10
	}
	if cfg.Embedding.ConnectBackoffMS == 0 {
		cfg.Embedding.ConnectBackoffMS = 1000
	}
	// Overlap only defaults alongside the size so a custom chunk_size is never paired with a larger overlap.
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 200
		if cfg.Chunking.ChunkOverlap == 0 {
			cfg.Chunking.ChunkOverlap = 20
		}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.AnswerTopK == 0 {
		cfg.Retrieval.AnswerTopK = 3
	}
	if cfg.Completion.BaseURL == "" {
		cfg.Completion.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Completion.APIKeyEnv == "" {
		cfg.Completion.APIKeyEnv = "GROQ_API_KEY"
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "openai/gpt-oss-120b"
	}
	if cfg.Completion.Temperature == 0 {
		cfg.Completion.Temperature = 0.3
	}
	if cfg.Completion.TopP == 0 {
		cfg.Completion.TopP = 0.9
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 1000
	}
	if cfg.Completion.TimeoutSecs == 0 {
		cfg.Completion.TimeoutSecs = 60
	}
	if cfg.Completion.RequestsPerSecond == 0 {
		cfg.Completion.RequestsPerSecond = 2
	}
	if cfg.Fetch.TimeoutSecs == 0 {
		cfg.Fetch.TimeoutSecs = 30
	}
	if cfg.Fetch.MaxBytes == 0 {
		cfg.Fetch.MaxBytes = 20 << 20
	}
}
