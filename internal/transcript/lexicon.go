package transcript

// Fillers are removed in stage 1. Multi-word entries match with a single
// space between words.
var Fillers = []string{
	"umm", "uh", "uhh", "erm", "hmm", "eee", "emmm", "yeah", "ah", "okay", "like", "you know", "so",
}

// PhraseCorrection maps a commonly misheard phrase to its intended text.
type PhraseCorrection struct {
	Wrong   string
	Correct string
}

// Phrases are applied in order during stage 4.
//
// "vic" and "va" are heard for both VGG16 and VGG19; they resolve to "vgc19"
// only.
var Phrases = []PhraseCorrection{
	{"celiac", "cellular"},
	{"script", "skripsi"},
	{"i mentioned", "submission"},
	{"time short flow", "tensorflow"},
	{"eras", "keras"},
	{"vic", "vgc19"},
	{"va", "vgc19"},
	{"mobile net", "mobilenet"},
	{"data set", "dataset"},
	{"violation laws", "validation loss"},
	{"tense of flow", "tensorflow"},
	{"transfer learning", "transfer learning"},
	{"convolutional neural", "convolutional neural"},
	{"image classification", "image classification"},
}

// DefaultVocabulary is the domain vocabulary used for stage 5 when no
// vocabulary file is configured.
var DefaultVocabulary = []string{
	"tensorflow", "keras", "vgc16", "vgc19", "mobilenet",
	"efficientnet", "cnn", "relu", "dropout", "model",
	"layer normalization", "batch normalization", "attention",
	"embedding", "deep learning", "dataset", "submission",
	"machine learning", "artificial intelligence", "neural network",
	"convolutional", "pooling", "activation", "optimizer",
	"loss function", "training", "validation", "testing",
}
