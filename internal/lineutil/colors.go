package lineutil

// Spacing on a 4px grid.
const (
	SpacingNone = "none"
	SpacingXS   = "4px"
	SpacingS    = "8px"
	SpacingM    = "12px"
	SpacingL    = "16px"

	LineSpacingNormal = "6px"
)

// LINE Design System Colors
// Reference: https://designsystem.line.me/LDSM/foundation/color/line-color-guide-ex-en
const (
	ColorLineGreen = "#06C755" // Primary brand color
	ColorWhite     = "#FFFFFF"
	ColorGray300   = "#DFDFDF" // Separator, divider
	ColorGray600   = "#777777" // Secondary text
	ColorGray900   = "#111111" // Primary text
	ColorRed400    = "#FF334B" // Price emphasis

	ColorText      = ColorGray900
	ColorLabel     = "#666666" // 5.7:1 contrast ratio
	ColorSubtext   = ColorGray600
	ColorHeroBg    = ColorLineGreen
	ColorHeroText  = ColorWhite
	ColorSeparator = ColorGray300
	ColorPrice     = ColorRed400
)
