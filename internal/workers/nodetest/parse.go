package nodetest

import "encoding/json"

// testResultPayload is the JSON body carried by a node-test int-status tx
// (proxy_load_results, mhAddNodeCheckResult), grounded on
// original_source/src/Workers/WorkerNodeTest.cpp's two parallel handlers.
type testResultPayload struct {
	Method        string  `json:"method"`
	ServerAddress string  `json:"server_address"`
	TesterAddress string  `json:"tester_address"`
	Type          string  `json:"type"`
	IP            string  `json:"ip"`
	Geo           string  `json:"geo"`
	RPS           float64 `json:"rps"`
	Success       bool    `json:"success"`
	IsForwardSort bool    `json:"isForwardSort"`
}

func parseTestResult(data []byte) (*testResultPayload, bool) {
	if !looksLikeJSONObject(data) {
		return nil, false
	}
	var p testResultPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	switch p.Method {
	case "proxy_load_results", "mhAddNodeCheckResult":
		return &p, true
	default:
		return nil, false
	}
}

// trustPayload carries a state block's per-address trust assertion.
type trustPayload struct {
	Trust *int64 `json:"trust"`
}

func parseTrust(data []byte) (int64, bool) {
	if !looksLikeJSONObject(data) {
		return 0, false
	}
	var p trustPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Trust == nil {
		return 0, false
	}
	return *p.Trust, true
}

// registrationPayload carries a node's announced IP/geo.
type registrationPayload struct {
	Method string `json:"method"`
	IP     string `json:"ip"`
	Geo    string `json:"geo"`
}

func parseRegistration(data []byte) (*registrationPayload, bool) {
	if !looksLikeJSONObject(data) {
		return nil, false
	}
	var p registrationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	switch p.Method {
	case "mh-noderegistration", "mhRegisterNode":
		return &p, true
	default:
		return nil, false
	}
}

func looksLikeJSONObject(data []byte) bool {
	return len(data) >= 2 && data[0] == '{' && data[len(data)-1] == '}'
}
