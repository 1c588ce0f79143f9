package asset

// ConflictsWith lists the fields where supplied carries a value that differs
// from a. Fields left empty in supplied never conflict, so a partial
// description of a stored asset is compatible with it.
func (a *Asset) ConflictsWith(supplied *Asset) []string {
	var fields []string
	add := func(field string, differs bool) {
		if differs {
			fields = append(fields, field)
		}
	}

	add("type", supplied.Type != 0 && supplied.Type != a.Type)
	add("name", supplied.Name != "" && supplied.Name != a.Name)
	add("symbol", supplied.Symbol != "" && supplied.Symbol != a.Symbol)
	add("started", supplied.Started != nil && (a.Started == nil || supplied.Started.Unix() != a.Started.Unix()))
	add("swapped_for", supplied.SwappedFor != "" && supplied.SwappedFor != a.SwappedFor)
	add("forked", supplied.Forked != "" && supplied.Forked != a.Forked)
	add("coingecko", supplied.Coingecko != nil && !equalPtr(supplied.Coingecko, a.Coingecko))
	add("cryptocompare", supplied.Cryptocompare != nil && !equalPtr(supplied.Cryptocompare, a.Cryptocompare))

	if supplied.Token == nil {
		return fields
	}
	if a.Token == nil {
		return append(fields, "token")
	}
	fields = append(fields, a.Token.conflictsWith(supplied.Token)...)
	return fields
}

func (t *ChainToken) conflictsWith(supplied *ChainToken) []string {
	var fields []string
	if supplied.Key() != t.Key() {
		fields = append(fields, "token_key")
	}
	if supplied.Decimals != nil && !equalPtr(supplied.Decimals, t.Decimals) {
		fields = append(fields, "decimals")
	}
	if supplied.Protocol != "" && supplied.Protocol != t.Protocol {
		fields = append(fields, "protocol")
	}
	if len(supplied.Underlying) > 0 && !sameComposition(supplied.Underlying, t.Underlying) {
		fields = append(fields, "underlying")
	}
	return fields
}

func sameComposition(a, b []UnderlyingToken) bool {
	if len(a) != len(b) {
		return false
	}
	weights := make(map[string]UnderlyingToken, len(b))
	for _, c := range b {
		weights[c.Identifier] = c
	}
	for _, c := range a {
		other, ok := weights[c.Identifier]
		if !ok || !other.Weight.Equal(c.Weight) {
			return false
		}
	}
	return true
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
