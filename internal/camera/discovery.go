package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultDevicePattern はV4L2デバイスを探すパターン
const DefaultDevicePattern = "/dev/video*"

// sysfsVideoDir はデバイス名を読むsysfsのディレクトリ
var sysfsVideoDir = "/sys/class/video4linux"

var deviceNumberRe = regexp.MustCompile(`video(\d+)$`)

// scanVideoDevices はパターンに一致するデバイスパスを番号順に返す
func scanVideoDevices(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultDevicePattern
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	devices := make([]string, 0, len(matches))
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if _, err := os.Stat(match); err != nil {
			continue
		}
		devices = append(devices, match)
	}

	return devices, nil
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	// /dev/videoXX から XX を抽出
	matches := deviceNumberRe.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// deviceName はsysfsからカメラ名を取得する
// 取得できない場合はデバイス番号から生成する
func deviceName(device string) string {
	base := filepath.Base(device)
	data, err := os.ReadFile(filepath.Join(sysfsVideoDir, base, "name"))
	if err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name
		}
	}

	// フォールバック: デバイス番号から生成
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}
