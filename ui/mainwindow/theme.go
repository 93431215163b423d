package mainwindow

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

// ViewerTheme keeps the chrome dark so it does not compete with the
// fluorescence images, and uses the overlay's ice blue as accent.
type ViewerTheme struct{}

var _ fyne.Theme = (*ViewerTheme)(nil)

func (t *ViewerTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	switch name {
	case theme.ColorNamePrimary:
		return color.NRGBA{R: 0x7F, G: 0xD4, B: 0xFF, A: 0xFF}
	case theme.ColorNameSelection:
		return color.NRGBA{R: 0x7F, G: 0xD4, B: 0xFF, A: 0x60}
	case theme.ColorNameBackground:
		return color.NRGBA{R: 0x1A, G: 0x1A, B: 0x1A, A: 0xFF}
	default:
		return theme.DefaultTheme().Color(name, theme.VariantDark)
	}
}

func (t *ViewerTheme) Font(style fyne.TextStyle) fyne.Resource {
	return theme.DefaultTheme().Font(style)
}

func (t *ViewerTheme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return theme.DefaultTheme().Icon(name)
}

func (t *ViewerTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNamePadding:
		return 3 // more room for the image
	default:
		return theme.DefaultTheme().Size(name)
	}
}
