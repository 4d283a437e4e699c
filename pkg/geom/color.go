package geom

import "image/color"

var (
	Red    = color.RGBA{255, 0, 0, 255}
	Green  = color.RGBA{0, 255, 0, 255}
	Blue   = color.RGBA{0, 0, 255, 255}
	White  = color.RGBA{255, 255, 255, 255}
	Yellow = color.RGBA{255, 255, 0, 255}
)
