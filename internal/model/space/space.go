package space

// Space is a named Genie workspace the bridge can route questions to.
type Space struct {
	Name string `json:"name" yaml:"name"`
	ID   string `json:"id" yaml:"id"`
}
