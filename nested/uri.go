package nested

import "strings"

// AddPathQuery appends query to path after '?' or '&' as appropriate. An empty
// query leaves path unchanged.
func AddPathQuery(path, query string) string {
	if query == "" {
		return path
	}
	if strings.IndexByte(path, '?') >= 0 {
		return path + "&" + query
	}
	return path + "?" + query
}
