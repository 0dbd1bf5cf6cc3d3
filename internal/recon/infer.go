package recon

import "strings"

// InferIngestionParams guesses an embedding model and chunk size from the
// collection name. Pure substring heuristic, used only to pre-fill ingestion
// parameters when the caller omits them.
func InferIngestionParams(collection string) (model string, chunkSize int) {
	name := strings.ToLower(collection)
	switch {
	case strings.Contains(name, "code"):
		return "voyage-code-3", 512
	case strings.Contains(name, "legal"), strings.Contains(name, "policy"):
		return "bge-large-en-v1.5", 1024
	case strings.Contains(name, "chat"), strings.Contains(name, "support"):
		return "all-MiniLM-L6-v2", 256
	default:
		return "bge-base-en-v1.5", 768
	}
}

// modelDims maps known embedding models to their vector width.
var modelDims = map[string]int{
	"voyage-code-3":     1024,
	"bge-large-en-v1.5": 1024,
	"all-MiniLM-L6-v2":  384,
	"bge-base-en-v1.5":  768,
}

// InferVectorDim returns the vector width for an embedding model. Unknown
// models get the default model's width.
func InferVectorDim(model string) int {
	if d, ok := modelDims[model]; ok {
		return d
	}
	return 768
}
