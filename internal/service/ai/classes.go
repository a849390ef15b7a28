package ai

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// COCOClasses are the 80 COCO class names, in the order YOLO models emit them.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// TensorFlow SSD models number COCO classes 1..90 and skip these ids.
var ssdUnusedIDs = map[int]bool{12: true, 26: true, 29: true, 30: true, 45: true, 66: true, 68: true, 69: true, 71: true, 83: true}

// ssdClassIndex maps a TensorFlow COCO id onto an index into an 80 entry class list.
var ssdClassIndex = func() map[int]int {
	m := make(map[int]int, len(COCOClasses))
	next := 0
	for id := 1; id <= 90; id++ {
		if ssdUnusedIDs[id] {
			continue
		}
		m[id] = next
		next++
	}
	return m
}()

// LoadClassFile reads class names, one per line. Blank lines are skipped.
func LoadClassFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open class file: %w", err)
	}
	defer f.Close()

	var classes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			classes = append(classes, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class file: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("class file %s is empty", path)
	}
	return classes, nil
}

// classLabel names a raw class index for the given model format.
func classLabel(classes []string, format string, classID int) string {
	idx := classID
	if format == FormatSSD {
		mapped, ok := ssdClassIndex[classID]
		if !ok {
			return fmt.Sprintf("unknown%d", classID)
		}
		idx = mapped
	}
	if idx < 0 || idx >= len(classes) {
		return fmt.Sprintf("unknown%d", classID)
	}
	return classes[idx]
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
