package graph

// BatchConfig defines UNWIND batch sizes per node label.
//
// Declarations carry few properties and batch well; File nodes carry the
// hash and import list and get smaller batches. Edges carry almost nothing.
type BatchConfig struct {
	DirectoryBatchSize   int
	FileBatchSize        int
	DeclarationBatchSize int // Class, Interface, Function, Method
	EdgeBatchSize        int
}

// DefaultBatchConfig returns batch sizes for medium repositories (~5K files)
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		DirectoryBatchSize:   500,
		FileBatchSize:        500,
		DeclarationBatchSize: 2000,
		EdgeBatchSize:        5000,
	}
}

// SmallRepoBatchConfig for repos < 500 files
// Uses smaller batches to reduce memory pressure
func SmallRepoBatchConfig() BatchConfig {
	return BatchConfig{
		DirectoryBatchSize:   100,
		FileBatchSize:        200,
		DeclarationBatchSize: 500,
		EdgeBatchSize:        1000,
	}
}

// LargeRepoBatchConfig for repos > 10K files
func LargeRepoBatchConfig() BatchConfig {
	return BatchConfig{
		DirectoryBatchSize:   1000,
		FileBatchSize:        1000,
		DeclarationBatchSize: 5000,
		EdgeBatchSize:        10000,
	}
}

// BatchConfigForFileCount picks a preset by repository size
func BatchConfigForFileCount(files int) BatchConfig {
	switch {
	case files < 500:
		return SmallRepoBatchConfig()
	case files > 10000:
		return LargeRepoBatchConfig()
	default:
		return DefaultBatchConfig()
	}
}

// WithSize overrides every node batch size, keeping edges at least as large
func (bc BatchConfig) WithSize(size int) BatchConfig {
	if size <= 0 {
		return bc
	}
	bc.DirectoryBatchSize = size
	bc.FileBatchSize = size
	bc.DeclarationBatchSize = size
	if bc.EdgeBatchSize < size {
		bc.EdgeBatchSize = size
	}
	return bc
}

// GetBatchSizeForLabel returns the appropriate batch size for a given node label
func (bc BatchConfig) GetBatchSizeForLabel(label string) int {
	var size int
	switch label {
	case "Directory", "Project":
		size = bc.DirectoryBatchSize
	case "File":
		size = bc.FileBatchSize
	default:
		size = bc.DeclarationBatchSize
	}
	if size <= 0 {
		return 500
	}
	return size
}

// chunk splits n items into [start, end) ranges of at most size
func chunk(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{i, end})
	}
	return out
}
