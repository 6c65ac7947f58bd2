package semantic

import (
	"errors"
	"fmt"

	"pdfua/ir/raw"
)

const maxStructDepth = 128

// parseStructTree reads an existing /StructTreeRoot into the semantic model.
// Unknown structure types map to TagSpan with RawType preserved so the
// validator can still see what the document claimed.
func (b *builderImpl) parseStructTree(rawDoc *raw.Document, catalog raw.Dictionary, doc *Document) (*StructureTree, error) {
	stObj, ok := catalog.Get(raw.NameLiteral("StructTreeRoot"))
	if !ok {
		return nil, nil
	}
	var rootRef raw.ObjectRef
	if r, isRef := stObj.(raw.Reference); isRef {
		rootRef = r.Ref()
	}
	root, ok := rawDoc.Resolve(stObj).(*raw.DictObj)
	if !ok {
		return nil, errors.New("StructTreeRoot is not a dictionary")
	}

	tree := &StructureTree{RoleMap: map[string]string{}, OriginalRef: rootRef}
	if rmObj, ok := root.Get(raw.NameLiteral("RoleMap")); ok {
		if rm, ok := rawDoc.Resolve(rmObj).(*raw.DictObj); ok {
			for k, v := range rm.KV {
				if n, ok := rawDoc.Resolve(v).(raw.Name); ok {
					tree.RoleMap[k] = n.Value()
				}
			}
		}
	}

	pages := make(map[raw.ObjectRef]int, len(doc.Pages))
	for _, p := range doc.Pages {
		pages[p.OriginalRef] = p.Index
	}

	kObj, ok := root.Get(raw.NameLiteral("K"))
	if !ok {
		return tree, nil
	}
	kids, err := b.parseStructKids(rawDoc, kObj, nil, tree, pages, 0)
	if err != nil {
		return nil, err
	}
	tree.Kids = kids
	return tree, nil
}

// parseStructKids handles the three shapes /K takes: a single kid, an array
// of kids, or (for leaf content) an integer MCID. The returned slice holds
// element kids only; content kids are appended to parent directly.
func (b *builderImpl) parseStructKids(rawDoc *raw.Document, kObj raw.Object, parent *StructureElement, tree *StructureTree, pages map[raw.ObjectRef]int, depth int) ([]*StructureElement, error) {
	if depth > maxStructDepth {
		return nil, errors.New("structure tree too deep")
	}
	resolved := rawDoc.Resolve(kObj)
	if arr, ok := resolved.(*raw.ArrayObj); ok {
		var kids []*StructureElement
		for _, item := range arr.Items {
			sub, err := b.parseStructKids(rawDoc, item, parent, tree, pages, depth+1)
			if err != nil {
				return nil, err
			}
			kids = append(kids, sub...)
		}
		return kids, nil
	}
	if num, ok := resolved.(raw.Number); ok {
		if parent == nil {
			return nil, errors.New("bare MCID at structure root")
		}
		parent.Content = append(parent.Content, ContentRef{
			PageIndex: parent.PageIndex,
			MCID:      int(num.Int()),
		})
		return nil, nil
	}
	dict, ok := resolved.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("unexpected structure kid type %T", resolved)
	}

	switch raw.DictGetName(dict, "Type") {
	case "MCR":
		if parent == nil {
			return nil, errors.New("marked-content reference at structure root")
		}
		ref := ContentRef{PageIndex: parent.PageIndex}
		if pgObj, ok := dict.Get(raw.NameLiteral("Pg")); ok {
			if r, isRef := pgObj.(raw.Reference); isRef {
				if idx, ok := pages[r.Ref()]; ok {
					ref.PageIndex = idx
				}
			}
		}
		if mcid, ok := raw.DictGetInt(dict, "MCID"); ok {
			ref.MCID = int(mcid)
			parent.Content = append(parent.Content, ref)
		}
		return nil, nil
	case "OBJR":
		// object references (annotations) are not content the engine tags
		return nil, nil
	}

	elem, err := b.parseStructElement(rawDoc, dict, kObj, parent, tree, pages, depth)
	if err != nil {
		return nil, err
	}
	return []*StructureElement{elem}, nil
}

func (b *builderImpl) parseStructElement(rawDoc *raw.Document, dict *raw.DictObj, orig raw.Object, parent *StructureElement, tree *StructureTree, pages map[raw.ObjectRef]int, depth int) (*StructureElement, error) {
	elem := &StructureElement{Parent: parent}
	if r, isRef := orig.(raw.Reference); isRef {
		elem.OriginalRef = r.Ref()
	}

	rawType := raw.DictGetName(dict, "S")
	elem.RawType = rawType
	mapped := rawType
	if std, ok := tree.RoleMap[rawType]; ok {
		mapped = std
	}
	if tag, ok := ParseTag(mapped); ok {
		elem.Tag = tag
	} else {
		elem.Tag = TagSpan
	}

	if parent != nil {
		elem.PageIndex = parent.PageIndex
	}
	if pgObj, ok := dict.Get(raw.NameLiteral("Pg")); ok {
		if r, isRef := pgObj.(raw.Reference); isRef {
			if idx, ok := pages[r.Ref()]; ok {
				elem.PageIndex = idx
			}
		}
	}
	if alt, ok := raw.DictGetString(dict, "Alt"); ok {
		elem.Alt = pdfTextString(alt)
		elem.HasAlt = true
	}
	if at, ok := raw.DictGetString(dict, "ActualText"); ok {
		elem.ActualText = pdfTextString(at)
	}
	if lang, ok := raw.DictGetString(dict, "Lang"); ok {
		elem.Lang = pdfTextString(lang)
	}

	if kObj, ok := dict.Get(raw.NameLiteral("K")); ok {
		kids, err := b.parseStructKids(rawDoc, kObj, elem, tree, pages, depth+1)
		if err != nil {
			return nil, err
		}
		elem.Kids = kids
	}
	return elem, nil
}
