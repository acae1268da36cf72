package host

// SyntaxElement is a node of a file's syntax tree.
type SyntaxElement interface {
	Kind() string
	Path() string
	Range() (start, end int)
	Text() string
	Parent() SyntaxElement
}

// Named is an element with a name, such as a declaration.
type Named interface {
	SyntaxElement
	Name() string
	NameRange() (start, end int)
}

// Referenceable is an element referring to declarations elsewhere.
type Referenceable interface {
	SyntaxElement
	Resolve() []Named
}

// Declaration is a declaration-like node that shows up in symbol listings.
type Declaration interface {
	SyntaxElement
	DeclKind() DeclKind
	// SymbolName is the name shown for the declaration in symbol listings.
	SymbolName() string
}

// Container is an element with child elements.
type Container interface {
	SyntaxElement
	Children() []SyntaxElement
}

type DeclKind int

const (
	DeclFile DeclKind = iota
	DeclPackage
	DeclImport
	DeclClass
	DeclInterface
	DeclEnum
	DeclInitializer
	DeclConstructor
	DeclMethod
	DeclField
	DeclVariable
	DeclAnnotation
	DeclEnumConstant
	DeclNull
	DeclBoolean
	DeclNumber
	DeclString
)

var declKindNames = [...]string{
	"file", "package", "import", "class", "interface", "enum", "initializer",
	"constructor", "method", "field", "variable", "annotation", "enum constant",
	"null", "boolean", "number", "string",
}

func (k DeclKind) String() string {
	if int(k) < len(declKindNames) {
		return declKindNames[k]
	}
	return "unknown"
}

// SameElement reports whether a and b denote the same node.
func SameElement(a, b SyntaxElement) bool {
	if a == nil || b == nil {
		return a == b
	}
	as, ae := a.Range()
	bs, be := b.Range()
	return a.Path() == b.Path() && as == bs && ae == be && a.Kind() == b.Kind()
}

// Anchor returns the range that locates an element: its name when it has
// one, otherwise the element itself.
func Anchor(el SyntaxElement) (start, end int) {
	if n, ok := el.(Named); ok {
		if s, e := n.NameRange(); e > s {
			return s, e
		}
	}
	return el.Range()
}
