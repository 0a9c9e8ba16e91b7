package assets

// Loader decodes one kind of asset from disk. params is loader specific and may be nil.
type Loader interface {
	Load(path string, params interface{}) (interface{}, error)
}
