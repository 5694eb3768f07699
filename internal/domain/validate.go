package domain

import (
	"math"
	"strconv"
)

const (
	MinQuality     = 0
	MaxQuality     = 100
	MaxFileSizeMB  = 50
	MaxDimension   = 10000
	MaxBlurRadius  = 100
	MaxSensitivity = 100
)

func IsValidQuality(quality int) bool {
	return quality >= MinQuality && quality <= MaxQuality
}

func IsValidRotation(degrees int) bool {
	switch degrees {
	case 0, 90, 180, 270:
		return true
	default:
		return false
	}
}

func IsValidImageFormat(fileName string) bool {
	return FormatFromFileName(fileName).Known()
}

// IsValidFileSize reports whether size is positive and at most maxSizeMB
// mebibytes. maxSizeMB <= 0 selects MaxFileSizeMB.
func IsValidFileSize(size int64, maxSizeMB int) bool {
	if maxSizeMB <= 0 {
		maxSizeMB = MaxFileSizeMB
	}
	return size > 0 && size <= int64(maxSizeMB)*1024*1024
}

// IsValidDimensions reports whether both sides are positive and within the
// maxima. Non-positive maxima select MaxDimension.
func IsValidDimensions(width, height, maxWidth, maxHeight int) bool {
	if maxWidth <= 0 {
		maxWidth = MaxDimension
	}
	if maxHeight <= 0 {
		maxHeight = MaxDimension
	}
	return width > 0 && height > 0 && width <= maxWidth && height <= maxHeight
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders bytes with 1024-based units and at most two decimals,
// e.g. 1536 -> "1.5 KB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	value, i := float64(bytes), 0
	for value >= 1024 && i < len(sizeUnits)-1 {
		value /= 1024
		i++
	}

	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[i]
}

// CompressionRatio is the percentage saved going from originalSize to
// compressedSize, rounded half up. A zero original yields 0.
func CompressionRatio(originalSize, compressedSize int64) int {
	if originalSize == 0 {
		return 0
	}
	saved := float64(originalSize-compressedSize) / float64(originalSize) * 100
	return int(math.Floor(saved + 0.5))
}
