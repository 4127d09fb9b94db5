package spirv

import "fmt"

// typeInfo describes one SPIR-V type instruction result, enough to resolve a
// variable's resource category without re-walking the stream.
type typeInfo struct {
	kind int // mirrors the Op* constant that produced this type
	// pointer: points at pointee's type id and storage class
	pointeeID    uint32
	storageClass StorageClass
	// struct: member type ids, in declaration order
	members []uint32
	// image: Dim operand and Sampled operand (1=sampled, 2=storage)
	dim     uint32
	sampled uint32
}

type memberDecoration struct {
	hasOffset   bool
	offset      uint32
	nonWritable bool
	nonReadable bool
}

// Module is a parsed SPIR-V module (C1 Reflection Oracle).
type Module struct {
	bound uint32

	names   map[uint32]string
	types   map[uint32]typeInfo
	vars    map[uint32]uint32 // variable id -> pointer-type id
	decSet  map[uint32]uint32
	decBind map[uint32]uint32
	hasSet  map[uint32]bool
	hasBind map[uint32]bool

	memberDec map[uint32]map[uint32]*memberDecoration

	nonWritable map[uint32]bool
	nonReadable map[uint32]bool
	bufferBlock map[uint32]bool // struct decorated BufferBlock (pre-1.3 SSBO)
	block       map[uint32]bool // struct decorated Block (UBO or 1.3+ SSBO)

	decSpecID map[uint32]uint32 // result id -> SpecId decoration value
	hasSpecID map[uint32]bool

	entryPoints  []EntryPoint
	specConstIDs []uint32 // result ids, in declaration order
	specConsts   []SpecConstant

	activeEntry int // index into entryPoints, -1 if none set
}

// Parse walks words (a SPIR-V module, little-endian uint32 stream including
// the 5-word header) in a single pass, building the bookkeeping Resources
// and SpecializationConstants later read from.
func Parse(words []uint32) (*Module, error) {
	if len(words) < 5 || words[0] != magicNumber {
		return nil, fmt.Errorf("spirv: not a SPIR-V module (bad magic or too short)")
	}
	m := &Module{
		bound:       words[3],
		names:       make(map[uint32]string),
		types:       make(map[uint32]typeInfo),
		vars:        make(map[uint32]uint32),
		decSet:      make(map[uint32]uint32),
		decBind:     make(map[uint32]uint32),
		hasSet:      make(map[uint32]bool),
		hasBind:     make(map[uint32]bool),
		memberDec:   make(map[uint32]map[uint32]*memberDecoration),
		nonWritable: make(map[uint32]bool),
		nonReadable: make(map[uint32]bool),
		bufferBlock: make(map[uint32]bool),
		block:       make(map[uint32]bool),
		decSpecID:   make(map[uint32]uint32),
		hasSpecID:   make(map[uint32]bool),
		activeEntry: -1,
	}

	i := 5
	for i < len(words) {
		word := words[i]
		wordCount := int(word >> 16)
		opcode := int(word & 0xFFFF)
		if wordCount == 0 || i+wordCount > len(words) {
			return nil, fmt.Errorf("spirv: malformed instruction at word %d", i)
		}
		operands := words[i+1 : i+wordCount]
		m.visitInstruction(opcode, operands)
		i += wordCount
	}
	m.resolveSpecConsts()
	return m, nil
}

// resolveSpecConsts pairs each OpSpecConstant* result id with its SpecId
// decoration (if any) and name, once the full decoration set is known. A
// spec constant without a SpecId decoration isn't addressable by index and
// is skipped; it can still be overridden by constant folding at compile
// time, just not by this module's callers.
func (m *Module) resolveSpecConsts() {
	m.specConsts = m.specConsts[:0]
	for _, id := range m.specConstIDs {
		constID, ok := m.decSpecID[id]
		if !ok {
			continue
		}
		m.specConsts = append(m.specConsts, SpecConstant{
			Ordinal:    len(m.specConsts),
			ConstantID: constID,
			Name:       m.names[id],
		})
	}
}

func (m *Module) visitInstruction(opcode int, ops []uint32) {
	switch opcode {
	case opName:
		if len(ops) >= 2 {
			m.names[ops[0]] = decodeString(ops[1:])
		}
	case opEntryPoint:
		if len(ops) >= 3 {
			model := ExecutionModel(ops[0])
			fn := ops[1]
			name, rest := decodeStringAt(ops[2:])
			ep := EntryPoint{Model: model, Name: name, FunctionID: fn}
			for _, id := range rest {
				ep.Interface = append(ep.Interface, id)
			}
			m.entryPoints = append(m.entryPoints, ep)
		}
	case opTypePointer:
		if len(ops) >= 3 {
			m.types[ops[0]] = typeInfo{kind: opTypePointer, storageClass: StorageClass(ops[1]), pointeeID: ops[2]}
		}
	case opTypeStruct:
		if len(ops) >= 1 {
			t := typeInfo{kind: opTypeStruct}
			t.members = append(t.members, ops[1:]...)
			m.types[ops[0]] = t
		}
	case opTypeImage:
		if len(ops) >= 7 {
			m.types[ops[0]] = typeInfo{kind: opTypeImage, dim: ops[2], sampled: ops[6]}
		}
	case opTypeSampledImage:
		if len(ops) >= 2 {
			m.types[ops[0]] = typeInfo{kind: opTypeSampledImage, pointeeID: ops[1]}
		}
	case opTypeSampler:
		if len(ops) >= 1 {
			m.types[ops[0]] = typeInfo{kind: opTypeSampler}
		}
	case opVariable:
		if len(ops) >= 2 {
			resultType := ops[0]
			resultID := ops[1]
			m.vars[resultID] = resultType
		}
	case opDecorate:
		if len(ops) >= 2 {
			target := ops[0]
			deco := ops[1]
			switch deco {
			case decorationDescSet:
				if len(ops) >= 3 {
					m.decSet[target] = ops[2]
					m.hasSet[target] = true
				}
			case decorationBinding:
				if len(ops) >= 3 {
					m.decBind[target] = ops[2]
					m.hasBind[target] = true
				}
			case decorationNonWritable:
				m.nonWritable[target] = true
			case decorationNonReadable:
				m.nonReadable[target] = true
			case decorationBufferBlock:
				m.bufferBlock[target] = true
			case decorationBlock:
				m.block[target] = true
			case decorationSpecID:
				if len(ops) >= 3 {
					m.decSpecID[target] = ops[2]
					m.hasSpecID[target] = true
				}
			}
		}
	case opMemberDecorate:
		if len(ops) >= 3 {
			structID, member, deco := ops[0], ops[1], ops[2]
			md := m.memberDecoration(structID, member)
			switch deco {
			case decorationOffset:
				if len(ops) >= 4 {
					md.hasOffset = true
					md.offset = ops[3]
				}
			case decorationNonWritable:
				md.nonWritable = true
			case decorationNonReadable:
				md.nonReadable = true
			}
		}
	case opSpecConstant, opSpecConstantTrue, opSpecConstantFalse:
		if len(ops) >= 2 {
			m.specConstIDs = append(m.specConstIDs, ops[1])
		}
	}
}

func (m *Module) memberDecoration(structID, member uint32) *memberDecoration {
	byMember, ok := m.memberDec[structID]
	if !ok {
		byMember = make(map[uint32]*memberDecoration)
		m.memberDec[structID] = byMember
	}
	md, ok := byMember[member]
	if !ok {
		md = &memberDecoration{}
		byMember[member] = md
	}
	return md
}

// decodeString reads a NUL-terminated, little-endian-packed UTF-8 string out
// of a run of SPIR-V literal words.
func decodeString(words []uint32) string {
	s, _ := decodeStringAt(words)
	return s
}

// decodeStringAt decodes the leading NUL-terminated string from words and
// returns it along with the remaining (unconsumed) operand words.
func decodeStringAt(words []uint32) (string, []uint32) {
	buf := make([]byte, 0, len(words)*4)
	for i, w := range words {
		b := [4]byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)}
		terminated := false
		for _, c := range b {
			if c == 0 {
				terminated = true
				break
			}
			buf = append(buf, c)
		}
		if terminated {
			return string(buf), words[i+1:]
		}
	}
	return string(buf), nil
}
