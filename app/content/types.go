package content

// Node is one piece of a text block: a text leaf when Tag is empty,
// otherwise an element with its own children.
type Node struct {
	Text     string `json:"text,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Class    string `json:"class,omitempty"`
	Style    string `json:"style,omitempty"`
	Href     string `json:"href,omitempty"`
	Children []Node `json:"children,omitempty"`
}

func (n Node) IsText() bool {
	return n.Tag == ""
}

type ImageRef struct {
	Src   string `json:"src"`
	Alt   string `json:"alt"`
	Title string `json:"title"`
	Link  string `json:"link"`
	Class string `json:"class"`
}

func (r ImageRef) IsEmpty() bool {
	return r.Src == ""
}

type ImageGroup struct {
	Class  string
	Images []ImageRef
}

// Block is one output unit: the text elements that precede an image group
// in document order, followed by that group. A trailing block may carry
// text only.
type Block struct {
	Text       []Node     `json:"text"`
	Images     []ImageRef `json:"images"`
	GroupClass string     `json:"group_class,omitempty"`
}

// candidate is a root found during the walk: either a text element or an
// image group, never both.
type candidate struct {
	text  *Node
	group *ImageGroup
}

// Images returns every image across blocks in order.
func Images(blocks []Block) []ImageRef {
	var images []ImageRef
	for _, b := range blocks {
		images = append(images, b.Images...)
	}
	return images
}
