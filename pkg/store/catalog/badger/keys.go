package badger

// Database Key Namespace Design
// ==============================
//
// The catalog stores one record per file, keyed by the file's normalized
// path. Because BadgerDB iterates keys in byte order and every normalized
// path starts with "/", a prefix scan walks the catalog already sorted by
// path.
//
// Data Type     Prefix   Key Format    Value Type
// ==========================================================
// Entries       "e:"     e:<path>      catalog entry (XDR)
//
// Key Design Rationale:
//
// 1. Entries (e:)
//    - The normalized path is the key, so Resolve is a point lookup and
//      List("/docs") is a scan over "e:/docs".
//    - A byte prefix scan also matches siblings like "/docsy"; List
//      filters those out with the same component rule the memory catalog
//      uses.
//    - Example: e:/docs/readme.md
const prefixEntry = "e:"

// keyEntry generates the key for one catalog entry.
//
// Format: "e:<path>". The path must already be normalized.
func keyEntry(path string) []byte {
	return []byte(prefixEntry + path)
}

// entryPathFromKey recovers the normalized path from an entry key.
func entryPathFromKey(key []byte) string {
	return string(key[len(prefixEntry):])
}
