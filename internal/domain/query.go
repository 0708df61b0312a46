package domain

// NoImageAnalysis is returned in place of a model reply when no image is given.
const NoImageAnalysis = "No image provided for analysis."

type Query struct {
	AudioPath string
	ImagePath string
}

type Answer struct {
	Transcript string `json:"transcript"`
	Analysis   string `json:"analysis"`
	AudioPath  string `json:"-"`
}

// EncodedImage is an image ready to be embedded in a vision request.
type EncodedImage struct {
	Base64   string
	MimeType string
	Width    int
	Height   int
	Resized  bool
}

// DataURL renders the image as a data: URL.
func (i EncodedImage) DataURL() string {
	return "data:" + i.MimeType + ";base64," + i.Base64
}
