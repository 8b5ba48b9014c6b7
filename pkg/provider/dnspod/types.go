package dnspod

import (
	"bytes"
	"encoding/json"
)

// Status codes returned in the response envelope.
const (
	codeOK        = "1"
	codeNoRecords = "10"
)

type listForm struct {
	LoginToken string `url:"login_token"`
	Format     string `url:"format"`
	Domain     string `url:"domain"`
	SubDomain  string `url:"sub_domain"`
}

type createForm struct {
	LoginToken string `url:"login_token"`
	Format     string `url:"format"`
	Domain     string `url:"domain"`
	SubDomain  string `url:"sub_domain"`
	RecordType string `url:"record_type"`
	RecordLine string `url:"record_line"`
	Value      string `url:"value"`
}

type ddnsForm struct {
	LoginToken string `url:"login_token"`
	Format     string `url:"format"`
	Domain     string `url:"domain"`
	SubDomain  string `url:"sub_domain"`
	RecordID   string `url:"record_id"`
	RecordLine string `url:"record_line"`
	Value      string `url:"value"`
}

type status struct {
	Code    flexString `json:"code"`
	Message string     `json:"message"`
}

type envelope struct {
	Status *status `json:"status"`
}

type listResponse struct {
	Records []remoteRecord `json:"records"`
}

type remoteRecord struct {
	ID    flexString `json:"id"`
	Name  string     `json:"name"`
	Type  string     `json:"type"`
	Value string     `json:"value"`
}

type createResponse struct {
	Record struct {
		ID flexString `json:"id"`
	} `json:"record"`
}

// flexString decodes a JSON string or number into its text form. DNSPod
// returns ids as strings in some endpoints and as numbers in others.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
