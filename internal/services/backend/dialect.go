package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"framegate/internal/config"
	"framegate/internal/services"
)

// dialect binds route names and payload shapes for one backend flavour.
type dialect struct {
	name        string
	submitPath  string
	queuePath   string
	statsPath   string
	uploadPath  string
	uploadField string
	eventsPath  string

	historyPath  func(id string) string
	viewPath     func(out Output) string
	submitBody   func(graph json.RawMessage, clientID string) ([]byte, error)
	parseSubmit  func(data []byte) (JobHandle, error)
	parseHistory func(id string, data []byte) (HistoryEntry, error)
	parseQueue   func(data []byte) (QueueSnapshot, error)
	parseUpload  func(data []byte) (string, error)
	parseEvent   func(data []byte) (Event, bool, error)
}

func lookupDialect(name string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", config.DialectGeneric:
		return genericDialect, nil
	case config.DialectComfyUI:
		return comfyDialect, nil
	default:
		return dialect{}, services.Wrap(services.ErrConfiguration, stageName, "new client",
			fmt.Sprintf("unknown dialect %q", name), nil)
	}
}

var genericDialect = dialect{
	name:        config.DialectGeneric,
	submitPath:  "/submit",
	queuePath:   "/queue",
	statsPath:   "/system_stats",
	uploadPath:  "/upload",
	uploadField: "file",
	eventsPath:  "/events",
	historyPath: func(id string) string { return "/history/" + url.PathEscape(id) },
	viewPath: func(out Output) string {
		return "/view?" + url.Values{"path": {out.Path}}.Encode()
	},
	submitBody: func(graph json.RawMessage, clientID string) ([]byte, error) {
		return json.Marshal(struct {
			JobGraph json.RawMessage `json:"jobGraph"`
			ClientID string          `json:"clientId,omitempty"`
		}{graph, clientID})
	},
	parseSubmit: func(data []byte) (JobHandle, error) {
		var payload struct {
			JobID string `json:"jobId"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return JobHandle{}, err
		}
		return JobHandle{ID: payload.JobID}, nil
	},
	parseHistory: parseGenericHistory,
	parseQueue: func(data []byte) (QueueSnapshot, error) {
		var snapshot QueueSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return QueueSnapshot{}, err
		}
		if snapshot.Running < 0 || snapshot.Pending < 0 {
			return QueueSnapshot{}, fmt.Errorf("negative queue counts")
		}
		return snapshot, nil
	},
	parseUpload: func(data []byte) (string, error) {
		var payload struct {
			Name string `json:"name"`
			Path string `json:"path"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return "", err
		}
		if payload.Path != "" {
			return payload.Path, nil
		}
		return payload.Name, nil
	},
	parseEvent: parseGenericEvent,
}

var comfyDialect = dialect{
	name:        config.DialectComfyUI,
	submitPath:  "/prompt",
	queuePath:   "/queue",
	statsPath:   "/system_stats",
	uploadPath:  "/upload/image",
	uploadField: "image",
	eventsPath:  "/ws",
	historyPath: func(id string) string { return "/history/" + url.PathEscape(id) },
	viewPath: func(out Output) string {
		folder := out.Folder
		if folder == "" {
			folder = "output"
		}
		values := url.Values{
			"filename":  {out.Filename()},
			"subfolder": {out.Subfolder()},
			"type":      {folder},
		}
		return "/view?" + values.Encode()
	},
	submitBody: func(graph json.RawMessage, clientID string) ([]byte, error) {
		return json.Marshal(struct {
			Prompt   json.RawMessage `json:"prompt"`
			ClientID string          `json:"client_id,omitempty"`
		}{graph, clientID})
	},
	parseSubmit: func(data []byte) (JobHandle, error) {
		var payload struct {
			PromptID   string          `json:"prompt_id"`
			Number     int             `json:"number"`
			NodeErrors json.RawMessage `json:"node_errors"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return JobHandle{}, err
		}
		return JobHandle{ID: payload.PromptID, Number: payload.Number}, nil
	},
	parseHistory: parseComfyHistory,
	parseQueue:   parseComfyQueue,
	parseUpload: func(data []byte) (string, error) {
		var payload struct {
			Name      string `json:"name"`
			Subfolder string `json:"subfolder"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return "", err
		}
		if payload.Subfolder != "" {
			return path.Join(payload.Subfolder, payload.Name), nil
		}
		return payload.Name, nil
	},
	parseEvent: parseComfyEvent,
}

func isEmptyObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null"))
}

func parseGenericHistory(_ string, data []byte) (HistoryEntry, error) {
	if isEmptyObject(data) {
		return HistoryEntry{}, nil
	}
	var payload struct {
		Outputs *[]Output `json:"outputs"`
		Error   string    `json:"error"`
		Status  string    `json:"status"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return HistoryEntry{}, err
	}
	entry := HistoryEntry{Found: true, Error: strings.TrimSpace(payload.Error)}
	if entry.Error == "" && strings.EqualFold(payload.Status, "error") {
		entry.Error = "backend reported error status"
	}
	if payload.Outputs == nil && entry.Error == "" {
		return HistoryEntry{}, fmt.Errorf("history entry has neither outputs nor error")
	}
	if payload.Outputs != nil {
		entry.Outputs = *payload.Outputs
	}
	return entry, nil
}

type comfyFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

var comfyVideoKeys = map[string]bool{"gifs": true, "videos": true, "video": true}

var comfyVideoExt = map[string]bool{".mp4": true, ".webm": true, ".mov": true, ".mkv": true, ".gif": true}

func parseComfyHistory(id string, data []byte) (HistoryEntry, error) {
	if isEmptyObject(data) {
		return HistoryEntry{}, nil
	}
	var payload map[string]struct {
		Outputs map[string]map[string]json.RawMessage `json:"outputs"`
		Status  *struct {
			StatusStr string              `json:"status_str"`
			Completed bool                `json:"completed"`
			Messages  [][]json.RawMessage `json:"messages"`
		} `json:"status"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return HistoryEntry{}, err
	}
	item, ok := payload[id]
	if !ok {
		return HistoryEntry{}, nil
	}
	entry := HistoryEntry{Found: true}
	if item.Status != nil && strings.EqualFold(item.Status.StatusStr, "error") {
		entry.Error = comfyStatusError(item.Status.Messages)
	}

	nodes := make([]string, 0, len(item.Outputs))
	for node := range item.Outputs {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		fields := item.Outputs[node]
		animated := false
		if raw, ok := fields["animated"]; ok {
			var flags []bool
			if json.Unmarshal(raw, &flags) == nil {
				for _, f := range flags {
					animated = animated || f
				}
			}
		}
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			var files []comfyFile
			if err := json.Unmarshal(fields[key], &files); err != nil {
				continue
			}
			for _, file := range files {
				if file.Filename == "" {
					continue
				}
				out := Output{
					MediaType: MediaImage,
					Path:      path.Join(file.Subfolder, file.Filename),
					Tags:      []string{key},
					Node:      node,
					Folder:    file.Type,
				}
				if animated || comfyVideoKeys[key] || comfyVideoExt[strings.ToLower(path.Ext(file.Filename))] {
					out.MediaType = MediaVideo
					out.Tags = append(out.Tags, TagAnimated)
				}
				entry.Outputs = append(entry.Outputs, out)
			}
		}
	}
	return entry, nil
}

func comfyStatusError(messages [][]json.RawMessage) string {
	for _, msg := range messages {
		if len(msg) < 2 {
			continue
		}
		var kind string
		if json.Unmarshal(msg[0], &kind) != nil || kind != "execution_error" {
			continue
		}
		var detail struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if json.Unmarshal(msg[1], &detail) == nil && detail.ExceptionMessage != "" {
			if detail.NodeType != "" {
				return fmt.Sprintf("%s: %s", detail.NodeType, strings.TrimSpace(detail.ExceptionMessage))
			}
			return strings.TrimSpace(detail.ExceptionMessage)
		}
	}
	return "backend reported error status"
}

func parseComfyQueue(data []byte) (QueueSnapshot, error) {
	var payload struct {
		Running [][]json.RawMessage `json:"queue_running"`
		Pending [][]json.RawMessage `json:"queue_pending"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return QueueSnapshot{}, err
	}
	snapshot := QueueSnapshot{
		Running:    len(payload.Running),
		Pending:    len(payload.Pending),
		RunningIDs: comfyQueueIDs(payload.Running),
		PendingIDs: comfyQueueIDs(payload.Pending),
	}
	return snapshot, nil
}

func comfyQueueIDs(items [][]json.RawMessage) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if len(item) < 2 {
			continue
		}
		var id string
		if json.Unmarshal(item[1], &id) == nil && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseSystemStats(data []byte) (SystemStats, error) {
	var payload struct {
		Devices []struct {
			Name      string  `json:"name"`
			Type      string  `json:"type"`
			VRAMTotal float64 `json:"vram_total"`
			VRAMFree  float64 `json:"vram_free"`
		} `json:"devices"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return SystemStats{}, err
	}
	const mib = 1024 * 1024
	stats := SystemStats{Devices: make([]Device, 0, len(payload.Devices))}
	for _, d := range payload.Devices {
		stats.Devices = append(stats.Devices, Device{
			Name:        strings.TrimSpace(d.Name),
			Type:        d.Type,
			VRAMTotalMB: d.VRAMTotal / mib,
			VRAMFreeMB:  d.VRAMFree / mib,
		})
	}
	return stats, nil
}
