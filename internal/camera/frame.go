package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"time"
)

// PixelFormat はフレームデータの形式
type PixelFormat string

const (
	FormatMJPEG PixelFormat = "MJPEG" // JPEG圧縮済み
	FormatYUYV  PixelFormat = "YUYV"  // YUV 4:2:2 パック形式
	FormatGrey  PixelFormat = "GREY"  // 8bitグレースケール
)

// Frame はキャプチャされた1フレームと付随するメタデータ
type Frame struct {
	Data      []byte        // 画像データ
	Format    PixelFormat   // データ形式
	Width     int           // 画像幅
	Height    int           // 画像高さ
	Exposure  time.Duration // キャプチャ時の露光時間
	Timestamp time.Time     // キャプチャ時刻
}

// EncodedPayload はハンドラへ渡すバイト列を返す
// ペイロードが空の場合は配信できないためエラーを返す
func (f *Frame) EncodedPayload() ([]byte, error) {
	if f == nil {
		return nil, errors.New("フレームがnilです")
	}
	if len(f.Data) == 0 {
		return nil, errors.New("フレームデータが空です")
	}
	return f.Data, nil
}

// ComputeOptimalExposure はフレームの輝度分布から次の露光時間を計算する
//
// 目標パーセンタイルの輝度値（16bitスケール）が TargetValue に近づくよう current を比例補正する。
// 差が Tolerance 以内なら current をそのまま返す。補正倍率は MaxStepRatio で、
// 結果は [Min, Max] で制限される。
func (f *Frame) ComputeOptimalExposure(current time.Duration, params ExposureParams) (time.Duration, error) {
	if current <= 0 {
		current = params.Initial
	}
	if current <= 0 {
		current = params.Min
	}

	hist, total, err := f.luminanceHistogram()
	if err != nil {
		return current, err
	}

	value := percentileValue(hist, total, params.TargetPercentile, params.ExcludePixels)
	if math.Abs(value-params.TargetValue) <= params.Tolerance {
		return clampExposure(current, params), nil
	}

	var ratio float64
	if value <= 0 {
		// 真っ暗な場合は許容される最大倍率で延ばす
		ratio = math.Inf(1)
	} else {
		ratio = params.TargetValue / value
	}
	if params.MaxStepRatio > 1 {
		ratio = math.Max(1/params.MaxStepRatio, math.Min(params.MaxStepRatio, ratio))
	} else if math.IsInf(ratio, 1) {
		ratio = 2
	}

	next := time.Duration(float64(current) * ratio)
	return clampExposure(next, params), nil
}

// luminanceHistogram は8bit輝度のヒストグラムと画素数を返す
func (f *Frame) luminanceHistogram() ([256]int, int, error) {
	var hist [256]int

	if len(f.Data) == 0 {
		return hist, 0, errors.New("フレームデータが空です")
	}

	switch f.Format {
	case FormatGrey:
		for _, y := range f.Data {
			hist[y]++
		}
		return hist, len(f.Data), nil

	case FormatYUYV:
		// Y0 U Y1 V の並び
		n := 0
		for i := 0; i+2 < len(f.Data); i += 4 {
			hist[f.Data[i]]++
			hist[f.Data[i+2]]++
			n += 2
		}
		return hist, n, nil

	case FormatMJPEG, "":
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return hist, 0, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
		}
		n := imageHistogram(img, &hist)
		return hist, n, nil

	default:
		return hist, 0, fmt.Errorf("サポートされていないフォーマット: %s", f.Format)
	}
}

// imageHistogram はデコード済み画像の輝度をヒストグラムに加算する
func imageHistogram(img image.Image, hist *[256]int) int {
	switch m := img.(type) {
	case *image.YCbCr:
		b := m.Rect
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := m.Y[(y-b.Min.Y)*m.YStride:]
			for x := 0; x < b.Dx(); x++ {
				hist[row[x]]++
			}
		}
		return b.Dx() * b.Dy()
	case *image.Gray:
		b := m.Rect
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := m.Pix[(y-b.Min.Y)*m.Stride:]
			for x := 0; x < b.Dx(); x++ {
				hist[row[x]]++
			}
		}
		return b.Dx() * b.Dy()
	default:
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				hist[g.Y]++
			}
		}
		return b.Dx() * b.Dy()
	}
}

// percentileValue はヒストグラムから指定パーセンタイルの輝度を16bitスケールで返す
// 最も明るい exclude 画素はホットピクセルとして除外する
func percentileValue(hist [256]int, total int, percentile float64, exclude int) float64 {
	if total <= 0 {
		return 0
	}
	if exclude < 0 || exclude >= total {
		exclude = 0
	}
	n := total - exclude

	if percentile < 0 {
		percentile = 0
	}
	if percentile > 100 {
		percentile = 100
	}
	rank := int(math.Ceil(percentile / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}

	seen := 0
	for v := 0; v < len(hist); v++ {
		seen += hist[v]
		if seen >= rank {
			return float64(v) * 257
		}
	}
	return 255 * 257
}

// clampExposure は露光時間を [Min, Max] に制限する
func clampExposure(d time.Duration, params ExposureParams) time.Duration {
	if params.Min > 0 && d < params.Min {
		return params.Min
	}
	if params.Max > 0 && d > params.Max {
		return params.Max
	}
	return d
}
