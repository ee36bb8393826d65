package theme

import (
	"os"
	"strings"
)

// Glyphs used across the TUI. InitSymbols swaps them for ASCII on terminals
// that cannot render Unicode.
var (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolSpinner  = "⏳"
	SymbolBullet   = "•"
	SymbolEllipsis = "…"
	SymbolStream   = "▍"
	SymbolUser     = "You"
	SymbolBot      = "Pokédex"
)

type symbolSet struct {
	success, err, spinner, bullet, ellipsis, stream, bot string
}

var (
	unicodeSymbols = symbolSet{"✓", "✗", "⏳", "•", "…", "▍", "Pokédex"}
	asciiSymbols   = symbolSet{"[OK]", "[ERR]", "[...]", "*", "...", "_", "Pokedex"}
)

// UnicodeSupported reports whether the terminal likely renders Unicode.
// POKEDEX_ASCII_SYMBOLS=1 forces ASCII.
func UnicodeSupported() bool {
	if v := os.Getenv("POKEDEX_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if val == "" {
			continue
		}
		return strings.Contains(val, "utf-8") || strings.Contains(val, "utf8")
	}
	return true
}

// InitSymbols picks the glyph set for the current environment.
func InitSymbols() {
	set := unicodeSymbols
	if !UnicodeSupported() {
		set = asciiSymbols
	}
	SymbolSuccess = set.success
	SymbolError = set.err
	SymbolSpinner = set.spinner
	SymbolBullet = set.bullet
	SymbolEllipsis = set.ellipsis
	SymbolStream = set.stream
	SymbolBot = set.bot
}

func init() {
	InitSymbols()
}
