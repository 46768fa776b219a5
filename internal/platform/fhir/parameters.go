package fhir

// Parameters is the FHIR Parameters resource returned by $lookup and
// $translate.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

type Parameter struct {
	Name         string      `json:"name"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueURI     string      `json:"valueUri,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

func NewParameters() *Parameters {
	return &Parameters{ResourceType: "Parameters"}
}

// Add appends p and returns the receiver for chaining.
func (p *Parameters) Add(param Parameter) *Parameters {
	p.Parameter = append(p.Parameter, param)
	return p
}

// Get returns the first parameter called name.
func (p *Parameters) Get(name string) (Parameter, bool) {
	for _, param := range p.Parameter {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

func StringParam(name, v string) Parameter { return Parameter{Name: name, ValueString: v} }

func CodeParam(name, v string) Parameter { return Parameter{Name: name, ValueCode: v} }

func BoolParam(name string, v bool) Parameter { return Parameter{Name: name, ValueBoolean: &v} }

func CodingParam(name string, c Coding) Parameter { return Parameter{Name: name, ValueCoding: &c} }

// Value returns whichever primitive value is set.
func (p Parameter) Value() string {
	switch {
	case p.ValueCode != "":
		return p.ValueCode
	case p.ValueURI != "":
		return p.ValueURI
	}
	return p.ValueString
}
