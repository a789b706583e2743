package constants

// Model artifact file names. A model directory is valid only when every
// RequiredModelFiles entry exists.
const (
	EncoderModelFile      = "encoder_model.onnx"
	DecoderModelFile      = "decoder_model_merged.onnx"
	TokenizerFile         = "tokenizer.json"
	VocabFile             = "vocab.json"
	TokenizerConfigFile   = "tokenizer_config.json"
	PreprocessorConfig    = "preprocessor_config.json"
	ModelConfigFile       = "config.json"
	ReleaseArchiveSubtree = "onnx"
)

var RequiredModelFiles = []string{
	EncoderModelFile,
	DecoderModelFile,
	TokenizerFile,
	VocabFile,
}

type ModelStatus string

const (
	ModelStatusNotLoaded ModelStatus = "not_loaded"
	ModelStatusLoading   ModelStatus = "loading"
	ModelStatusLoaded    ModelStatus = "loaded"
	ModelStatusError     ModelStatus = "error"
)

// Termination is the reason a decode loop stopped.
type Termination string

const (
	TerminationEOS        Termination = "eos"
	TerminationRepetition Termination = "repetition"
	TerminationMaxLength  Termination = "max_length"
)
